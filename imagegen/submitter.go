// submitter.go implements the Submitter molecule that turns requests into
// remote tasks.
//
// This molecule composes:
//   - dimensions.go: width/height for standard generation
//   - net/http + encoding/json: the submit calls
//   - logging.Logger: submit diagnostics (endpoint, status, body excerpt)
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"

	"fluxtask/logging"

	"go.uber.org/zap"
)

// Remote endpoint paths, relative to the API base URL.
const (
	EndpointGenerateUltra     = "flux-pro-1.1-ultra"
	EndpointGenerateStandard  = "flux-pro-1.1"
	EndpointFinetune          = "finetune"
	EndpointInferenceUltra    = "flux-pro-1.1-ultra-finetuned"
	EndpointInferenceStandard = "flux-pro-finetuned"
	EndpointResult            = "get_result"
)

// CredentialHeader carries the API credential on every authenticated call.
const CredentialHeader = "x-key"

const (
	maxResponseBytes = 1 << 20
	bodyExcerptLen   = 512
)

// Submitter sends generation, fine-tune and inference requests. It performs
// one network call per submit and never retries.
//
// Thread Safety: Submitter is safe for concurrent use.
type Submitter struct {
	client  *http.Client
	baseURL string
	logger  *logging.Logger
}

// NewSubmitter creates a submitter for the API rooted at baseURL.
//
// Example:
//
//	client := core.NewHTTPClient(cfg, cfg.RequestTimeout)
//	submitter := NewSubmitter(client, cfg.BaseURL, logger)
//	handle, err := submitter.SubmitGenerate(ctx, req, cfg.APIKey)
func NewSubmitter(client *http.Client, baseURL string, logger *logging.Logger) *Submitter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Submitter{
		client:  client,
		baseURL: baseURL,
		logger:  logger.Named("submitter"),
	}
}

// SubmitGenerate submits a text-to-image request and returns its task handle.
// Ultra mode sends the aspect ratio label; standard mode sends the resolved
// width and height instead.
func (s *Submitter) SubmitGenerate(ctx context.Context, req GenerationRequest, credential string) (TaskHandle, error) {
	if err := validateGeneration(req, credential); err != nil {
		return "", err
	}

	endpoint, payload := buildGeneratePayload(req)

	var resp submitResponse
	if err := s.postJSON(ctx, endpoint, payload, credential, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &SubmissionError{Endpoint: endpoint, Reason: "response has no task id"}
	}

	s.logger.Info("generation submitted",
		zap.String("endpoint", endpoint),
		zap.String("task_id", resp.ID))
	return TaskHandle(resp.ID), nil
}

// SubmitFinetune uploads the archive at req.ZipPath and returns the finetune
// id. A response without an id yields an empty FinetuneID, not an error.
func (s *Submitter) SubmitFinetune(ctx context.Context, req FinetuneRequest, credential string) (FinetuneID, error) {
	if err := validateFinetune(req, credential); err != nil {
		return "", err
	}

	archive, err := os.ReadFile(req.ZipPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &ValidationError{Field: "zip_path", Reason: "file not found: " + req.ZipPath, Err: ErrFileMissing}
		}
		return "", &ValidationError{Field: "zip_path", Reason: "cannot read archive", Err: err}
	}

	payload := buildFinetunePayload(req, archive)

	var resp finetuneResponse
	if err := s.postJSON(ctx, EndpointFinetune, payload, credential, &resp); err != nil {
		return "", err
	}

	if resp.FinetuneID == "" {
		s.logger.Warn("finetune accepted without an id", zap.String("endpoint", EndpointFinetune))
	} else {
		s.logger.Info("finetune submitted",
			zap.String("finetune_id", resp.FinetuneID),
			zap.Int("archive_bytes", len(archive)))
	}
	return FinetuneID(resp.FinetuneID), nil
}

// SubmitInference runs a prompt against a trained fine-tune and returns the
// task handle.
func (s *Submitter) SubmitInference(ctx context.Context, req InferenceRequest, credential string) (TaskHandle, error) {
	if err := validateInference(req, credential); err != nil {
		return "", err
	}

	endpoint, payload := buildInferencePayload(req)

	var resp submitResponse
	if err := s.postJSON(ctx, endpoint, payload, credential, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &SubmissionError{Endpoint: endpoint, Reason: "response has no task id"}
	}

	s.logger.Info("inference submitted",
		zap.String("endpoint", endpoint),
		zap.String("finetune_id", req.FinetuneID),
		zap.String("task_id", resp.ID))
	return TaskHandle(resp.ID), nil
}

// postJSON sends payload to endpoint and decodes a 2xx JSON reply into out.
func (s *Submitter) postJSON(ctx context.Context, endpoint string, payload any, credential string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &SubmissionError{Endpoint: endpoint, Reason: "cannot encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinEndpoint(s.baseURL, endpoint), bytes.NewReader(body))
	if err != nil {
		return &SubmissionError{Endpoint: endpoint, Reason: "cannot build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(CredentialHeader, credential)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Error("submit request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return &SubmissionError{Endpoint: endpoint, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &SubmissionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: "cannot read response", Err: err}
	}
	excerpt := truncateText(string(respBody), bodyExcerptLen)

	if !isSuccessStatus(resp.StatusCode) {
		s.logger.Error("submit rejected",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", excerpt))
		return &SubmissionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: excerpt, Reason: "unexpected status"}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return &SubmissionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: "empty response body"}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		s.logger.Error("submit response is not JSON",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", excerpt))
		return &SubmissionError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: excerpt, Reason: "invalid response body", Err: err}
	}
	return nil
}

// buildGeneratePayload picks the endpoint and wire shape for req.
func buildGeneratePayload(req GenerationRequest) (string, any) {
	format := string(req.OutputFormat.orDefault())
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = DefaultAspectRatio
	}

	if req.UltraMode {
		return EndpointGenerateUltra, generateUltraPayload{
			Prompt:          req.Prompt,
			AspectRatio:     aspect,
			SafetyTolerance: req.SafetyTolerance,
			OutputFormat:    format,
			Raw:             req.Raw,
			Seed:            seedField(req.Seed),
		}
	}

	width, height := ResolveDimensions(aspect)
	return EndpointGenerateStandard, generateStandardPayload{
		Prompt:          req.Prompt,
		Width:           width,
		Height:          height,
		SafetyTolerance: req.SafetyTolerance,
		OutputFormat:    format,
		Seed:            seedField(req.Seed),
	}
}

func buildFinetunePayload(req FinetuneRequest, archive []byte) finetunePayload {
	trigger := req.TriggerWord
	if trigger == "" {
		trigger = DefaultTriggerWord
	}
	return finetunePayload{
		Comment:      req.Comment,
		TriggerWord:  trigger,
		FileData:     base64.StdEncoding.EncodeToString(archive),
		Iterations:   req.Iterations,
		Mode:         string(req.Mode),
		LearningRate: req.LearningRate,
		Captioning:   req.Captioning,
		Priority:     string(req.Priority),
		LoRARank:     req.LoRARank,
		FinetuneType: string(req.Type),
	}
}

func buildInferencePayload(req InferenceRequest) (string, inferencePayload) {
	endpoint := EndpointInferenceStandard
	if req.UltraMode {
		endpoint = EndpointInferenceUltra
	}
	opts := req.Options
	return endpoint, inferencePayload{
		FinetuneID:       req.FinetuneID,
		FinetuneStrength: req.FinetuneStrength,
		Prompt:           req.Prompt,
		OutputFormat:     string(opts.OutputFormat),
		AspectRatio:      opts.AspectRatio,
		SafetyTolerance:  opts.SafetyTolerance,
		Raw:              opts.Raw,
		Seed:             seedField(opts.Seed),
	}
}

// seedField returns nil for SeedUnset so the field is omitted.
func seedField(seed int) *int {
	if seed == SeedUnset {
		return nil
	}
	return &seed
}

func validateCredential(credential string) error {
	if credential == "" {
		return invalid("credential", "is required")
	}
	return nil
}

func validateSafety(tolerance int) error {
	if tolerance < MinSafetyTolerance || tolerance > MaxSafetyTolerance {
		return invalid("safety_tolerance", fmt.Sprintf("must be between %d and %d, got %d", MinSafetyTolerance, MaxSafetyTolerance, tolerance))
	}
	return nil
}

func validateFormat(format OutputFormat) error {
	if format != "" && !format.Valid() {
		return invalid("output_format", fmt.Sprintf("must be jpeg or png, got %q", format))
	}
	return nil
}

func validateAspect(label string) error {
	if label != "" && !IsAspectRatio(label) {
		return invalid("aspect_ratio", fmt.Sprintf("unknown label %q", label))
	}
	return nil
}

func validateGeneration(req GenerationRequest, credential string) error {
	if req.Prompt == "" {
		return invalid("prompt", "is required")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}
	if err := validateAspect(req.AspectRatio); err != nil {
		return err
	}
	if err := validateSafety(req.SafetyTolerance); err != nil {
		return err
	}
	return validateFormat(req.OutputFormat)
}

func validateFinetune(req FinetuneRequest, credential string) error {
	if req.ZipPath == "" {
		return invalid("zip_path", "is required")
	}
	info, err := os.Stat(req.ZipPath)
	if err != nil || info.IsDir() {
		return &ValidationError{Field: "zip_path", Reason: "file not found: " + req.ZipPath, Err: ErrFileMissing}
	}
	if req.Comment == "" {
		return invalid("finetune_comment", "is required")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}
	if req.Iterations < MinIterations {
		return invalid("iterations", fmt.Sprintf("must be at least %d, got %d", MinIterations, req.Iterations))
	}
	if math.IsNaN(req.LearningRate) || req.LearningRate < MinLearningRate || req.LearningRate > MaxLearningRate {
		return invalid("learning_rate", fmt.Sprintf("must be between %g and %g, got %g", MinLearningRate, MaxLearningRate, req.LearningRate))
	}
	switch req.Mode {
	case FinetuneModeCharacter, FinetuneModeProduct, FinetuneModeStyle, FinetuneModeGeneral:
	default:
		return invalid("mode", fmt.Sprintf("unknown mode %q", req.Mode))
	}
	switch req.Priority {
	case PrioritySpeed, PriorityQuality:
	default:
		return invalid("priority", fmt.Sprintf("unknown priority %q", req.Priority))
	}
	switch req.Type {
	case FinetuneTypeFull, FinetuneTypeLoRA:
	default:
		return invalid("finetune_type", fmt.Sprintf("unknown type %q", req.Type))
	}
	if req.LoRARank <= 0 {
		return invalid("lora_rank", fmt.Sprintf("must be positive, got %d", req.LoRARank))
	}
	return nil
}

func validateInference(req InferenceRequest, credential string) error {
	if req.FinetuneID == "" {
		return invalid("finetune_id", "is required")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}
	if math.IsNaN(req.FinetuneStrength) || req.FinetuneStrength < 0 {
		return invalid("finetune_strength", fmt.Sprintf("must not be negative, got %g", req.FinetuneStrength))
	}
	if err := validateFormat(req.Options.OutputFormat); err != nil {
		return err
	}
	if err := validateAspect(req.Options.AspectRatio); err != nil {
		return err
	}
	if req.Options.SafetyTolerance != nil {
		return validateSafety(*req.Options.SafetyTolerance)
	}
	return nil
}
