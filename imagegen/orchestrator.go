// orchestrator.go implements the Orchestrator organism, the single entry
// point host tools call.
//
// This organism composes:
//   - Submitter: request validation and submission
//   - Poller: waiting for and decoding the result
//   - Recorder: optional run history
//   - logging.Logger: one correlated log stream per run
//
// Run never returns an error to branch on. Every failure, including a
// panic, becomes the blank placeholder plus the best identifier available.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxtask/logging"

	"go.uber.org/zap"
)

// Run outcomes stored in RunRecord.Outcome.
const (
	OutcomeSuccess   = "success"
	OutcomeSubmitted = "submitted"
	OutcomeFallback  = "fallback"
)

const recordTimeout = 5 * time.Second

// Invocation is one call from the host. Only the request matching Operation
// is read.
type Invocation struct {
	Operation  Operation
	Credential string

	Generation GenerationRequest
	Finetune   FinetuneRequest
	Inference  InferenceRequest
}

// Result is always fully populated. Artifact is never nil; Auxiliary is the
// finetune id for Finetune and Inference and empty for Generate. Err is kept
// for diagnostics only.
type Result struct {
	Artifact  *Artifact
	Auxiliary string

	CorrelationID string
	TaskID        TaskHandle
	Attempts      int
	Fallback      bool
	Err           error
}

// RunRecord is the history entry written after every run.
type RunRecord struct {
	CorrelationID string
	Operation     Operation
	TaskID        string
	FinetuneID    string
	Outcome       string
	ErrorKind     string
	ErrorMessage  string
	Attempts      int
	StartedAt     time.Time
	Duration      time.Duration
}

// Recorder persists run history. Recording failures are logged and ignored.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
}

// Orchestrator dispatches an Invocation to the submitter and poller.
//
// Thread Safety: Orchestrator is safe for concurrent use; each Run owns its
// own request and response values.
type Orchestrator struct {
	submitter *Submitter
	poller    *Poller
	recorder  Recorder
	logger    *logging.Logger
	now       func() time.Time
}

// NewOrchestrator wires the pipeline. recorder may be nil.
//
// Example:
//
//	orch, err := NewOrchestrator(submitter, poller, repo, logger)
//	if err != nil {
//	    return err
//	}
//	res := orch.Run(ctx, Invocation{Operation: OperationGenerate, Credential: key, Generation: req})
//	if res.Fallback {
//	    // res.Artifact is the 512x512 placeholder
//	}
func NewOrchestrator(submitter *Submitter, poller *Poller, recorder Recorder, logger *logging.Logger) (*Orchestrator, error) {
	if submitter == nil {
		return nil, fmt.Errorf("imagegen: submitter cannot be nil")
	}
	if poller == nil {
		return nil, fmt.Errorf("imagegen: poller cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		submitter: submitter,
		poller:    poller,
		recorder:  recorder,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}, nil
}

// Run executes inv to completion.
func (o *Orchestrator) Run(ctx context.Context, inv Invocation) (res Result) {
	started := o.now()
	res.CorrelationID = newCorrelationID()
	log := o.logger.With(
		zap.String("correlation_id", res.CorrelationID),
		zap.String("operation", string(inv.Operation)))

	if inv.Operation == OperationFinetuneInference {
		res.Auxiliary = inv.Inference.FinetuneID
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during run", zap.Any("panic", r), zap.Stack("stack"))
			res.Err = fmt.Errorf("imagegen: panic during %s: %v", inv.Operation, r)
		}
		outcome := o.finish(&res, inv.Operation, log)
		o.record(ctx, inv, res, outcome, started, log)
	}()

	switch inv.Operation {
	case OperationGenerate:
		o.runGenerate(ctx, inv, &res, log)
	case OperationFinetune:
		o.runFinetune(ctx, inv, &res, log)
	case OperationFinetuneInference:
		o.runInference(ctx, inv, &res, log)
	default:
		res.Err = invalid("operation", fmt.Sprintf("unknown operation %q", inv.Operation))
	}
	return res
}

func (o *Orchestrator) runGenerate(ctx context.Context, inv Invocation, res *Result, log *logging.Logger) {
	req := inv.Generation
	log.Info("starting generation",
		zap.Bool("ultra", req.UltraMode),
		zap.String("aspect_ratio", req.AspectRatio),
		zap.String("prompt_preview", truncateText(req.Prompt, 50)))

	task, err := o.submitter.SubmitGenerate(ctx, req, inv.Credential)
	if err != nil {
		res.Err = err
		return
	}
	res.TaskID = task

	o.poll(ctx, task, req.OutputFormat, inv.Credential, res)
}

func (o *Orchestrator) runFinetune(ctx context.Context, inv Invocation, res *Result, log *logging.Logger) {
	req := inv.Finetune
	log.Info("starting finetune",
		zap.String("mode", string(req.Mode)),
		zap.String("type", string(req.Type)),
		zap.Int("iterations", req.Iterations))

	id, err := o.submitter.SubmitFinetune(ctx, req, inv.Credential)
	if err != nil {
		res.Err = err
		return
	}
	res.Auxiliary = string(id)
	res.Artifact = BlankArtifact()
}

func (o *Orchestrator) runInference(ctx context.Context, inv Invocation, res *Result, log *logging.Logger) {
	req := inv.Inference
	log.Info("starting finetune inference",
		zap.String("finetune_id", req.FinetuneID),
		zap.Bool("ultra", req.UltraMode),
		zap.Float64("finetune_strength", req.FinetuneStrength))

	task, err := o.submitter.SubmitInference(ctx, req, inv.Credential)
	if err != nil {
		res.Err = err
		return
	}
	res.TaskID = task

	o.poll(ctx, task, req.Options.OutputFormat, inv.Credential, res)
}

func (o *Orchestrator) poll(ctx context.Context, task TaskHandle, format OutputFormat, credential string, res *Result) {
	result, err := o.poller.Poll(ctx, task, format, credential)
	if err != nil {
		var pe *PollError
		if errors.As(err, &pe) {
			res.Attempts = pe.Attempts
		}
		res.Err = err
		return
	}
	res.Artifact = result.Artifact
	res.Attempts = result.Attempts
}

// finish substitutes the placeholder for any failure and logs the outcome.
func (o *Orchestrator) finish(res *Result, op Operation, log *logging.Logger) string {
	if res.Err == nil && res.Artifact != nil {
		if op == OperationFinetune {
			log.Info("finetune submitted", zap.String("finetune_id", res.Auxiliary))
			return OutcomeSubmitted
		}
		log.Info("run complete",
			zap.String("task_id", string(res.TaskID)),
			zap.Int("attempts", res.Attempts))
		return OutcomeSuccess
	}

	if res.Err == nil {
		res.Err = errors.New("imagegen: run produced no artifact")
	}
	res.Artifact = BlankArtifact()
	res.Fallback = true

	log.Error("run failed, returning placeholder",
		zap.String("error_kind", ErrorKind(res.Err)),
		zap.String("task_id", string(res.TaskID)),
		zap.String("auxiliary", res.Auxiliary),
		zap.Error(res.Err))
	return OutcomeFallback
}

func (o *Orchestrator) record(ctx context.Context, inv Invocation, res Result, outcome string, started time.Time, log *logging.Logger) {
	if o.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while recording run", zap.Any("panic", r))
		}
	}()

	rec := RunRecord{
		CorrelationID: res.CorrelationID,
		Operation:     inv.Operation,
		TaskID:        string(res.TaskID),
		Outcome:       outcome,
		ErrorKind:     ErrorKind(res.Err),
		Attempts:      res.Attempts,
		StartedAt:     started,
		Duration:      o.now().Sub(started),
	}
	if inv.Operation != OperationGenerate {
		rec.FinetuneID = res.Auxiliary
	}
	if res.Err != nil {
		rec.ErrorMessage = truncateText(logging.RedactSensitiveData(res.Err.Error()), bodyExcerptLen)
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.recorder.Record(recordCtx, rec); err != nil {
		log.Warn("failed to record run", zap.Error(err))
	}
}
