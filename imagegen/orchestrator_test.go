package imagegen

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"fluxtask/logging"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// memoryRecorder collects run records.
type memoryRecorder struct {
	mu      sync.Mutex
	records []RunRecord
	err     error
}

func (m *memoryRecorder) Record(ctx context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *memoryRecorder) last(t *testing.T) RunRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		t.Fatal("expected a run record")
	}
	return m.records[len(m.records)-1]
}

func newTestOrchestrator(t *testing.T, f *fakeFlux, budget int) (*Orchestrator, *sleepRecorder, *memoryRecorder) {
	t.Helper()
	submitter, poller, sleeper := newTestPipeline(t, f, budget)
	recorder := &memoryRecorder{}
	orch, err := NewOrchestrator(submitter, poller, recorder, logging.NewNop())
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return orch, sleeper, recorder
}

func assertPlaceholder(t *testing.T, res Result) {
	t.Helper()
	if res.Artifact == nil {
		t.Fatal("artifact must never be nil")
	}
	if !res.Artifact.IsBlank() {
		t.Errorf("expected placeholder, got shape %v", res.Artifact.Shape())
	}
}

// TestNewOrchestrator_NilDependencies tests constructor validation.
func TestNewOrchestrator_NilDependencies(t *testing.T) {
	f := newFakeFlux(t)
	submitter, poller, _ := newTestPipeline(t, f, 1)

	if _, err := NewOrchestrator(nil, poller, nil, nil); err == nil {
		t.Error("expected error for nil submitter")
	}
	if _, err := NewOrchestrator(submitter, nil, nil, nil); err == nil {
		t.Error("expected error for nil poller")
	}
	if _, err := NewOrchestrator(submitter, poller, nil, nil); err != nil {
		t.Errorf("recorder and logger are optional: %v", err)
	}
}

// TestRun_GenerateUltra tests a generation that is ready on the first query.
func TestRun_GenerateUltra(t *testing.T) {
	f := newFakeFlux(t)
	orch, _, recorder := newTestOrchestrator(t, f, 15)

	req := DefaultGenerationRequest()
	req.Prompt = "a cat"
	req.AspectRatio = "1:1"
	req.Seed = SeedUnset

	res := orch.Run(context.Background(), Invocation{Operation: OperationGenerate, Credential: testKey, Generation: req})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Fallback {
		t.Error("expected a real artifact")
	}
	if res.Artifact.Shape() != [4]int{1, 6, 8, 3} {
		t.Errorf("expected decoded sample shape, got %v", res.Artifact.Shape())
	}
	if res.Auxiliary != "" {
		t.Errorf("expected empty auxiliary, got %q", res.Auxiliary)
	}
	if res.TaskID != "t1" {
		t.Errorf("expected task t1, got %q", res.TaskID)
	}

	submit := f.recorded()[0].Body
	for _, key := range []string{"seed", "width", "height"} {
		if hasKey(submit, key) {
			t.Errorf("payload should not contain %q: %v", key, submit)
		}
	}

	rec := recorder.last(t)
	if rec.Outcome != OutcomeSuccess || rec.TaskID != "t1" || rec.Attempts != 1 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.CorrelationID != res.CorrelationID {
		t.Errorf("record correlation id %q != result %q", rec.CorrelationID, res.CorrelationID)
	}
}

// TestRun_GenerateEmptyPrompt tests that no call is made without a prompt.
func TestRun_GenerateEmptyPrompt(t *testing.T) {
	f := newFakeFlux(t)
	orch, sleeper, recorder := newTestOrchestrator(t, f, 15)

	req := DefaultGenerationRequest()
	res := orch.Run(context.Background(), Invocation{Operation: OperationGenerate, Credential: testKey, Generation: req})

	assertPlaceholder(t, res)
	if res.Auxiliary != "" {
		t.Errorf("expected empty auxiliary, got %q", res.Auxiliary)
	}
	if !errors.Is(res.Err, ErrValidation) {
		t.Errorf("expected validation error, got %v", res.Err)
	}
	if n := len(f.recorded()); n != 0 {
		t.Errorf("expected zero network calls, got %d", n)
	}
	if n := len(sleeper.seconds()); n != 0 {
		t.Errorf("expected no waits, got %d", n)
	}
	if rec := recorder.last(t); rec.Outcome != OutcomeFallback || rec.ErrorKind != "validation" {
		t.Errorf("unexpected record %+v", rec)
	}
}

// TestRun_FinetuneMissingArchive tests the missing file fallback.
func TestRun_FinetuneMissingArchive(t *testing.T) {
	f := newFakeFlux(t)
	orch, _, _ := newTestOrchestrator(t, f, 15)

	req := DefaultFinetuneRequest()
	req.ZipPath = filepath.Join(t.TempDir(), "missing.zip")
	req.Comment = "product shots"

	res := orch.Run(context.Background(), Invocation{Operation: OperationFinetune, Credential: testKey, Finetune: req})

	assertPlaceholder(t, res)
	if res.Auxiliary != "" {
		t.Errorf("expected empty auxiliary, got %q", res.Auxiliary)
	}
	if !errors.Is(res.Err, ErrFileMissing) {
		t.Errorf("expected file missing error, got %v", res.Err)
	}
	if n := len(f.recorded()); n != 0 {
		t.Errorf("expected zero network calls, got %d", n)
	}
}

// TestRun_FinetuneSubmitted tests the placeholder plus id success path.
func TestRun_FinetuneSubmitted(t *testing.T) {
	f := newFakeFlux(t)
	f.submitResponse = `{"finetune_id":"ft-42"}`
	orch, sleeper, recorder := newTestOrchestrator(t, f, 15)

	req := DefaultFinetuneRequest()
	req.ZipPath = writeArchive(t, "zip")
	req.Comment = "product shots"

	res := orch.Run(context.Background(), Invocation{Operation: OperationFinetune, Credential: testKey, Finetune: req})

	assertPlaceholder(t, res)
	if res.Err != nil {
		t.Errorf("unexpected error: %v", res.Err)
	}
	if res.Fallback {
		t.Error("a submitted finetune is not a fallback")
	}
	if res.Auxiliary != "ft-42" {
		t.Errorf("expected auxiliary ft-42, got %q", res.Auxiliary)
	}
	if n := len(sleeper.seconds()); n != 0 {
		t.Errorf("finetune must not poll, saw %d waits", n)
	}
	if rec := recorder.last(t); rec.Outcome != OutcomeSubmitted || rec.FinetuneID != "ft-42" {
		t.Errorf("unexpected record %+v", rec)
	}
}

// TestRun_FinetuneRejectedIsLogged tests that a rejected finetune is logged
// before the fallback.
func TestRun_FinetuneRejectedIsLogged(t *testing.T) {
	f := newFakeFlux(t)
	f.submitStatus = 422
	f.submitResponse = `{"detail":"bad archive"}`
	submitter, poller, _ := newTestPipeline(t, f, 15)

	core, logs := observer.New(zapcore.DebugLevel)
	orch, err := NewOrchestrator(submitter, poller, nil, logging.NewWithCore(core))
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultFinetuneRequest()
	req.ZipPath = writeArchive(t, "zip")
	req.Comment = "c"
	res := orch.Run(context.Background(), Invocation{Operation: OperationFinetune, Credential: testKey, Finetune: req})

	assertPlaceholder(t, res)
	if res.Auxiliary != "" {
		t.Errorf("expected empty auxiliary, got %q", res.Auxiliary)
	}

	failures := logs.FilterMessage("run failed, returning placeholder").All()
	if len(failures) != 1 {
		t.Fatalf("expected one failure log, got %d", len(failures))
	}
	fields := failures[0].ContextMap()
	if fields["error_kind"] != "submission" {
		t.Errorf("expected error_kind submission, got %v", fields["error_kind"])
	}
	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			if s, ok := v.(string); ok && strings.Contains(s, testKey) {
				t.Errorf("credential leaked into log entry %q", entry.Message)
			}
		}
	}
}

// TestRun_InferenceEventuallyReady tests inference with two pending replies.
func TestRun_InferenceEventuallyReady(t *testing.T) {
	f := newFakeFlux(t)
	f.submitResponse = `{"id":"t9"}`
	f.statuses = []string{"Pending", "Pending", "Ready"}
	orch, sleeper, _ := newTestOrchestrator(t, f, 15)

	req := DefaultInferenceRequest()
	req.FinetuneID = "ft-42"
	req.Prompt = "TOK in the snow"

	res := orch.Run(context.Background(), Invocation{Operation: OperationFinetuneInference, Credential: testKey, Inference: req})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Artifact.IsBlank() {
		t.Error("expected decoded artifact")
	}
	if res.Auxiliary != "ft-42" {
		t.Errorf("expected auxiliary ft-42, got %q", res.Auxiliary)
	}
	if res.TaskID != "t9" || res.Attempts != 3 {
		t.Errorf("expected task t9 after 3 attempts, got %q after %d", res.TaskID, res.Attempts)
	}

	// The two pending replies are preceded by 7s and 9s waits
	if got := sleeper.seconds(); !reflect.DeepEqual(got, []int{7, 9, 13}) {
		t.Errorf("expected waits [7 9 13], got %v", got)
	}
}

// TestRun_InferenceFailureKeepsFinetuneID tests id pairing on failure.
func TestRun_InferenceFailureKeepsFinetuneID(t *testing.T) {
	f := newFakeFlux(t)
	f.submitResponse = `{"id":"t9"}`
	f.statuses = []string{"Error"}
	orch, _, recorder := newTestOrchestrator(t, f, 15)

	req := DefaultInferenceRequest()
	req.FinetuneID = "ft-42"
	req.Prompt = "x"

	res := orch.Run(context.Background(), Invocation{Operation: OperationFinetuneInference, Credential: testKey, Inference: req})

	assertPlaceholder(t, res)
	if res.Auxiliary != "ft-42" {
		t.Errorf("expected auxiliary ft-42, got %q", res.Auxiliary)
	}
	if rec := recorder.last(t); rec.ErrorKind != "poll_remote_error" || rec.FinetuneID != "ft-42" || rec.Attempts != 1 {
		t.Errorf("unexpected record %+v", rec)
	}
}

// TestRun_FailurePaths tests that every error domain yields the placeholder.
func TestRun_FailurePaths(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeFlux)
		kind  string
	}{
		{"submit rejected", func(f *fakeFlux) { f.submitStatus = 500 }, "submission"},
		{"budget exhausted", func(f *fakeFlux) { f.statuses = []string{"Pending"} }, "poll_exhausted"},
		{"remote error", func(f *fakeFlux) { f.statuses = []string{"Content Moderated"} }, "poll_remote_error"},
		{"missing sample", func(f *fakeFlux) { f.omitSample = true }, "poll_missing_artifact_url"},
		{"download failed", func(f *fakeFlux) { f.sampleStatus = 404 }, "poll_download_failed"},
		{"decode failed", func(f *fakeFlux) { f.sample = []byte("garbage") }, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFlux(t)
			tt.setup(f)
			orch, _, recorder := newTestOrchestrator(t, f, 3)

			req := DefaultGenerationRequest()
			req.Prompt = "a cat"
			res := orch.Run(context.Background(), Invocation{Operation: OperationGenerate, Credential: testKey, Generation: req})

			assertPlaceholder(t, res)
			if !res.Fallback {
				t.Error("expected Fallback to be set")
			}
			if res.Auxiliary != "" {
				t.Errorf("expected empty auxiliary, got %q", res.Auxiliary)
			}
			if got := ErrorKind(res.Err); got != tt.kind {
				t.Errorf("expected error kind %q, got %q (%v)", tt.kind, got, res.Err)
			}
			if rec := recorder.last(t); rec.ErrorKind != tt.kind || rec.ErrorMessage == "" {
				t.Errorf("unexpected record %+v", rec)
			}
		})
	}
}

// TestRun_UnknownOperation tests dispatch on an unsupported operation.
func TestRun_UnknownOperation(t *testing.T) {
	f := newFakeFlux(t)
	orch, _, _ := newTestOrchestrator(t, f, 15)

	res := orch.Run(context.Background(), Invocation{Operation: "upscale", Credential: testKey})

	assertPlaceholder(t, res)
	if res.Auxiliary != "" {
		t.Errorf("expected empty auxiliary, got %q", res.Auxiliary)
	}
	if !errors.Is(res.Err, ErrValidation) {
		t.Errorf("expected validation error, got %v", res.Err)
	}
}

// TestRun_MissingCredential tests that an empty credential never reaches the
// network.
func TestRun_MissingCredential(t *testing.T) {
	f := newFakeFlux(t)
	orch, _, _ := newTestOrchestrator(t, f, 15)

	req := DefaultGenerationRequest()
	req.Prompt = "a cat"
	res := orch.Run(context.Background(), Invocation{Operation: OperationGenerate, Generation: req})

	assertPlaceholder(t, res)
	if n := len(f.recorded()); n != 0 {
		t.Errorf("expected zero network calls, got %d", n)
	}
}

// TestRun_RecoversPanic tests that a panic inside the pipeline is contained.
func TestRun_RecoversPanic(t *testing.T) {
	f := newFakeFlux(t)
	f.submitResponse = `{"id":"t9"}`
	orch, _, recorder := newTestOrchestrator(t, f, 15)
	orch.poller.config.Sleep = func(ctx context.Context, d time.Duration) error {
		panic("sleeper exploded")
	}

	req := DefaultInferenceRequest()
	req.FinetuneID = "ft-7"
	req.Prompt = "x"
	res := orch.Run(context.Background(), Invocation{Operation: OperationFinetuneInference, Credential: testKey, Inference: req})

	assertPlaceholder(t, res)
	if res.Auxiliary != "ft-7" {
		t.Errorf("expected auxiliary ft-7, got %q", res.Auxiliary)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "sleeper exploded") {
		t.Errorf("expected panic in error, got %v", res.Err)
	}
	if rec := recorder.last(t); rec.ErrorKind != "unexpected" {
		t.Errorf("expected unexpected error kind, got %+v", rec)
	}
}

// TestRun_RecorderFailureIgnored tests that history errors do not change the
// result.
func TestRun_RecorderFailureIgnored(t *testing.T) {
	f := newFakeFlux(t)
	orch, _, recorder := newTestOrchestrator(t, f, 15)
	recorder.err = errors.New("disk full")

	req := DefaultGenerationRequest()
	req.Prompt = "a cat"
	res := orch.Run(context.Background(), Invocation{Operation: OperationGenerate, Credential: testKey, Generation: req})

	if res.Err != nil || res.Fallback {
		t.Errorf("recorder failure changed the result: %+v", res)
	}
}

// TestRun_Canceled tests cancellation while polling.
func TestRun_Canceled(t *testing.T) {
	f := newFakeFlux(t)
	f.statuses = []string{"Pending"}
	orch, _, recorder := newTestOrchestrator(t, f, 15)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := DefaultGenerationRequest()
	req.Prompt = "a cat"
	res := orch.Run(ctx, Invocation{Operation: OperationGenerate, Credential: testKey, Generation: req})

	assertPlaceholder(t, res)
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", res.Err)
	}
	// History is still written after cancellation
	recorder.last(t)
}
