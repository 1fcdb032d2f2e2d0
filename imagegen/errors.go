package imagegen

import (
	"errors"
	"fmt"
)

// Sentinel errors for the task lifecycle. Typed errors below wrap these so
// callers can use errors.Is without caring about the diagnostic payload.
var (
	ErrValidation  = errors.New("imagegen: validation failed")
	ErrSubmission  = errors.New("imagegen: submission failed")
	ErrPoll        = errors.New("imagegen: polling failed")
	ErrDecode      = errors.New("imagegen: artifact decode failed")
	ErrFileMissing = errors.New("imagegen: file not found")
)

// ValidationError reports a request that was rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("imagegen: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// SubmissionError reports a failed submit call. StatusCode is zero when the
// request never got a response.
type SubmissionError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Reason     string
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("imagegen: submit to %s failed: %s", e.Endpoint, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrSubmission, e.Err}
	}
	return []error{ErrSubmission}
}

// PollErrorKind classifies why polling stopped without an artifact.
type PollErrorKind string

const (
	PollExhausted          PollErrorKind = "exhausted"
	PollMissingArtifactURL PollErrorKind = "missing_artifact_url"
	PollDownloadFailed     PollErrorKind = "download_failed"
	PollRemoteError        PollErrorKind = "remote_error"
	PollCanceled           PollErrorKind = "canceled"
)

// PollError reports a terminal polling outcome.
type PollError struct {
	Kind     PollErrorKind
	TaskID   TaskHandle
	Attempts int
	Status   TaskStatus
	Err      error
}

func (e *PollError) Error() string {
	msg := fmt.Sprintf("imagegen: poll task %s: %s after %d attempt(s)", e.TaskID, e.Kind, e.Attempts)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %q)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PollError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPoll, e.Err}
	}
	return []error{ErrPoll}
}

// DecodeError reports image bytes that could not be turned into an Artifact.
type DecodeError struct {
	Format OutputFormat
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("imagegen: decode as %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

// ErrorKind returns a short, stable label for err used in logs and the run
// history. It returns "" for a nil error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var pe *PollError
	if errors.As(err, &pe) {
		return "poll_" + string(pe.Kind)
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrDecode):
		return "decode"
	default:
		return "unexpected"
	}
}
