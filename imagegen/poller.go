// poller.go implements the Poller molecule: a bounded wait-then-query loop
// over the result endpoint.
//
// This molecule composes:
//   - atoms.go: BackoffDelay
//   - Downloader: fetching the sample once the task is Ready
//   - artifact.go: DecodeArtifact
//   - logging.Logger: per-attempt diagnostics
package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fluxtask/logging"

	"go.uber.org/zap"
)

// DefaultMaxAttempts is the polling budget when none is configured.
const DefaultMaxAttempts = 15

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PollerConfig controls the polling budget and backoff.
type PollerConfig struct {
	// MaxAttempts is the number of status queries before giving up.
	MaxAttempts int

	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration

	// Unit scales the backoff formula; one second in production.
	Unit time.Duration

	// Sleep is called before every query. Nil means SleepContext.
	Sleep Sleeper
}

// DefaultPollerConfig returns 15 attempts with waits of 7, 9, 13, 21, then
// 30 seconds.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		MaxAttempts: DefaultMaxAttempts,
		MaxDelay:    DefaultMaxDelay,
		Unit:        DefaultUnit,
		Sleep:       SleepContext,
	}
}

func (c PollerConfig) withDefaults() PollerConfig {
	d := DefaultPollerConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Unit <= 0 {
		c.Unit = d.Unit
	}
	if c.Sleep == nil {
		c.Sleep = d.Sleep
	}
	return c
}

// PollResult is a successfully fetched and decoded task output.
type PollResult struct {
	Artifact  *Artifact
	Attempts  int
	SampleURL string
}

// Poller waits for a submitted task to finish and decodes its sample. Each
// Poll call is a single sequential loop; there is no shared state between
// calls.
type Poller struct {
	client     *http.Client
	baseURL    string
	downloader *Downloader
	config     PollerConfig
	logger     *logging.Logger
}

// NewPoller creates a poller. A nil downloader reuses client for sample
// downloads.
func NewPoller(client *http.Client, baseURL string, downloader *Downloader, config PollerConfig, logger *logging.Logger) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	if downloader == nil {
		downloader = NewDownloader(client)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Poller{
		client:     client,
		baseURL:    baseURL,
		downloader: downloader,
		config:     config.withDefaults(),
		logger:     logger.Named("poller"),
	}
}

// Config returns the effective configuration.
func (p *Poller) Config() PollerConfig {
	return p.config
}

// Poll waits for task to become Ready, downloads the sample and decodes it
// through format.
//
// Before attempt n it waits BackoffDelay(n). Pending and transport or non-2xx
// failures consume an attempt; Ready and any other status end the loop
// immediately. Errors are *PollError, *DecodeError or *ValidationError.
func (p *Poller) Poll(ctx context.Context, task TaskHandle, format OutputFormat, credential string) (*PollResult, error) {
	if task == "" {
		return nil, invalid("task_id", "is required")
	}
	if err := validateCredential(credential); err != nil {
		return nil, err
	}
	format = format.orDefault()
	if err := validateFormat(format); err != nil {
		return nil, err
	}

	log := p.logger.With(zap.String("task_id", string(task)))
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		delay := BackoffDelay(attempt, p.config.Unit, p.config.MaxDelay)
		log.Debug("waiting before status query", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		if err := p.config.Sleep(ctx, delay); err != nil {
			return nil, &PollError{Kind: PollCanceled, TaskID: task, Attempts: attempt - 1, Err: err}
		}

		result, err := p.queryStatus(ctx, task, credential)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &PollError{Kind: PollCanceled, TaskID: task, Attempts: attempt, Err: ctx.Err()}
			}
			log.Warn("status query failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		switch result.Status {
		case StatusReady:
			return p.fetchSample(ctx, task, result, format, attempt)
		case StatusPending:
			log.Debug("task pending", zap.Int("attempt", attempt))
			continue
		default:
			msg := "task reported unexpected status"
			if result.Status == StatusError {
				msg = "task failed on the service"
			}
			log.Error(msg,
				zap.Int("attempt", attempt),
				zap.String("status", string(result.Status)))
			return nil, &PollError{Kind: PollRemoteError, TaskID: task, Attempts: attempt, Status: result.Status}
		}
	}

	log.Error("polling budget exhausted", zap.Int("attempts", p.config.MaxAttempts), zap.Error(lastErr))
	return nil, &PollError{Kind: PollExhausted, TaskID: task, Attempts: p.config.MaxAttempts, Err: lastErr}
}

func (p *Poller) fetchSample(ctx context.Context, task TaskHandle, result *resultResponse, format OutputFormat, attempt int) (*PollResult, error) {
	if result.Result == nil || result.Result.Sample == "" {
		p.logger.Error("ready task has no sample URL", zap.String("task_id", string(task)), zap.Int("attempt", attempt))
		return nil, &PollError{Kind: PollMissingArtifactURL, TaskID: task, Attempts: attempt, Status: StatusReady}
	}
	sampleURL := result.Result.Sample

	data, contentType, err := p.downloader.DownloadBytes(ctx, sampleURL)
	if err != nil {
		p.logger.Error("sample download failed",
			zap.String("task_id", string(task)),
			zap.String("sample_url", truncateText(sampleURL, 100)),
			zap.Error(err))
		return nil, &PollError{Kind: PollDownloadFailed, TaskID: task, Attempts: attempt, Status: StatusReady, Err: err}
	}

	artifact, err := DecodeArtifact(data, format)
	if err != nil {
		p.logger.Error("sample decode failed",
			zap.String("task_id", string(task)),
			zap.String("content_type", contentType),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return nil, err
	}

	p.logger.Info("task ready",
		zap.String("task_id", string(task)),
		zap.Int("attempt", attempt),
		zap.Int("width", artifact.Width),
		zap.Int("height", artifact.Height))
	return &PollResult{Artifact: artifact, Attempts: attempt, SampleURL: sampleURL}, nil
}

// queryStatus performs one GET against the result endpoint.
func (p *Poller) queryStatus(ctx context.Context, task TaskHandle, credential string) (*resultResponse, error) {
	endpoint := joinEndpoint(p.baseURL, EndpointResult) + "?id=" + url.QueryEscape(string(task))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(CredentialHeader, credential)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("imagegen: failed to read status response: %w", err)
	}
	if !isSuccessStatus(resp.StatusCode) {
		return nil, fmt.Errorf("imagegen: status request returned %d: %s", resp.StatusCode, truncateText(string(body), bodyExcerptLen))
	}

	var result resultResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("imagegen: invalid status response: %w", err)
	}
	return &result, nil
}
