package imagegen

// Operation selects the request shape sent to the remote service and how its
// response is handled.
type Operation string

const (
	OperationGenerate          Operation = "generate"
	OperationFinetune          Operation = "finetune"
	OperationFinetuneInference Operation = "inference"
)

// OutputFormat is the encoding the remote service produces and the decoder
// round-trips through.
type OutputFormat string

const (
	FormatJPEG OutputFormat = "jpeg"
	FormatPNG  OutputFormat = "png"
)

// Valid reports whether f is one of the supported encodings.
func (f OutputFormat) Valid() bool {
	return f == FormatJPEG || f == FormatPNG
}

// orDefault returns png for an unset format.
func (f OutputFormat) orDefault() OutputFormat {
	if f == "" {
		return FormatPNG
	}
	return f
}

// SeedUnset is the sentinel meaning "let the service pick a seed".
const SeedUnset = -1

// Safety tolerance bounds accepted by the service (0 strictest, 6 least strict).
const (
	MinSafetyTolerance = 0
	MaxSafetyTolerance = 6
)

// GenerationRequest describes a text-to-image job.
type GenerationRequest struct {
	Prompt          string
	UltraMode       bool
	AspectRatio     string
	SafetyTolerance int
	OutputFormat    OutputFormat
	Raw             bool
	Seed            int
}

// DefaultGenerationRequest mirrors the defaults exposed to host tools.
func DefaultGenerationRequest() GenerationRequest {
	return GenerationRequest{
		UltraMode:       true,
		AspectRatio:     DefaultAspectRatio,
		SafetyTolerance: MaxSafetyTolerance,
		OutputFormat:    FormatPNG,
		Seed:            SeedUnset,
	}
}

// FinetuneMode is the subject category a fine-tune is trained for.
type FinetuneMode string

const (
	FinetuneModeCharacter FinetuneMode = "character"
	FinetuneModeProduct   FinetuneMode = "product"
	FinetuneModeStyle     FinetuneMode = "style"
	FinetuneModeGeneral   FinetuneMode = "general"
)

// FinetunePriority trades training speed against quality.
type FinetunePriority string

const (
	PrioritySpeed   FinetunePriority = "speed"
	PriorityQuality FinetunePriority = "quality"
)

// FinetuneType selects full fine-tuning or a LoRA adapter.
type FinetuneType string

const (
	FinetuneTypeFull FinetuneType = "full"
	FinetuneTypeLoRA FinetuneType = "lora"
)

// Fine-tune training bounds.
const (
	MinIterations   = 100
	MinLearningRate = 0.00001
	MaxLearningRate = 0.0001

	DefaultTriggerWord = "TOK"
)

// FinetuneRequest describes a fine-tuning submission built from a local
// archive of training images.
type FinetuneRequest struct {
	ZipPath      string
	Comment      string
	TriggerWord  string
	Mode         FinetuneMode
	Iterations   int
	LearningRate float64
	Captioning   bool
	Priority     FinetunePriority
	Type         FinetuneType
	LoRARank     int
}

// DefaultFinetuneRequest returns the training defaults used by the service
// documentation.
func DefaultFinetuneRequest() FinetuneRequest {
	return FinetuneRequest{
		TriggerWord:  DefaultTriggerWord,
		Mode:         FinetuneModeGeneral,
		Iterations:   300,
		LearningRate: MinLearningRate,
		Captioning:   true,
		Priority:     PriorityQuality,
		Type:         FinetuneTypeFull,
		LoRARank:     32,
	}
}

// InferenceOptions are the optional fields forwarded with an inference
// request. Zero values are left off the wire; Seed uses SeedUnset.
type InferenceOptions struct {
	OutputFormat    OutputFormat
	AspectRatio     string
	SafetyTolerance *int
	Raw             *bool
	Seed            int
}

// InferenceRequest runs a prompt against a previously trained fine-tune.
type InferenceRequest struct {
	FinetuneID       string
	Prompt           string
	UltraMode        bool
	FinetuneStrength float64
	Options          InferenceOptions
}

// DefaultInferenceRequest returns an inference request with the service
// defaults filled in.
func DefaultInferenceRequest() InferenceRequest {
	return InferenceRequest{
		UltraMode:        true,
		FinetuneStrength: 1.2,
		Options:          InferenceOptions{Seed: SeedUnset},
	}
}

// TaskHandle identifies an in-flight generation on the remote service.
type TaskHandle string

// FinetuneID identifies a submitted fine-tuning job.
type FinetuneID string

// TaskStatus is the state reported by the result endpoint.
type TaskStatus string

const (
	StatusPending TaskStatus = "Pending"
	StatusReady   TaskStatus = "Ready"
	StatusError   TaskStatus = "Error"
)

// wire payloads

type generateUltraPayload struct {
	Prompt          string `json:"prompt"`
	AspectRatio     string `json:"aspect_ratio"`
	SafetyTolerance int    `json:"safety_tolerance"`
	OutputFormat    string `json:"output_format"`
	Raw             bool   `json:"raw"`
	Seed            *int   `json:"seed,omitempty"`
}

type generateStandardPayload struct {
	Prompt          string `json:"prompt"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	SafetyTolerance int    `json:"safety_tolerance"`
	OutputFormat    string `json:"output_format"`
	Seed            *int   `json:"seed,omitempty"`
}

type finetunePayload struct {
	Comment      string  `json:"finetune_comment"`
	TriggerWord  string  `json:"trigger_word"`
	FileData     string  `json:"file_data"`
	Iterations   int     `json:"iterations"`
	Mode         string  `json:"mode"`
	LearningRate float64 `json:"learning_rate"`
	Captioning   bool    `json:"captioning"`
	Priority     string  `json:"priority"`
	LoRARank     int     `json:"lora_rank"`
	FinetuneType string  `json:"finetune_type"`
}

type inferencePayload struct {
	FinetuneID       string  `json:"finetune_id"`
	FinetuneStrength float64 `json:"finetune_strength"`
	Prompt           string  `json:"prompt"`
	OutputFormat     string  `json:"output_format,omitempty"`
	AspectRatio      string  `json:"aspect_ratio,omitempty"`
	SafetyTolerance  *int    `json:"safety_tolerance,omitempty"`
	Raw              *bool   `json:"raw,omitempty"`
	Seed             *int    `json:"seed,omitempty"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type finetuneResponse struct {
	FinetuneID string `json:"finetune_id"`
}

type resultResponse struct {
	ID     string        `json:"id"`
	Status TaskStatus    `json:"status"`
	Result *resultSample `json:"result"`
}

type resultSample struct {
	Sample string `json:"sample"`
}
