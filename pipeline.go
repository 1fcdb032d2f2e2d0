package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"fluxtask/core"
	"fluxtask/db"
	"fluxtask/imagegen"
	"fluxtask/logging"
	"fluxtask/shutdown"

	"go.uber.org/zap"
)

// pipeline is everything one task command needs, built from the config.
type pipeline struct {
	cfg          *core.Config
	logger       *logging.Logger
	orchestrator *imagegen.Orchestrator
	cleanup      *shutdown.Registry
}

// loadConfig reads the environment and overlays --config when given.
func (a *app) loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	if a.configPath == "" {
		return cfg, nil
	}
	return core.LoadConfigFile(a.configPath, cfg)
}

// newPipeline wires logger, HTTP clients, submitter, poller, optional run
// history and orchestrator. Call cleanup.Run when done.
func (a *app) newPipeline(cfg *core.Config) (*pipeline, error) {
	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cleanup := shutdown.NewRegistry()
	cleanup.Register("logger", shutdown.PriorityLogger, func(ctx context.Context) error {
		// stderr cannot be synced on Linux; nothing useful to report
		_ = logger.Sync()
		return nil
	})

	var recorder imagegen.Recorder
	if cfg.HistoryDBPath != "" {
		database, err := db.OpenDatabase(cfg.HistoryDBPath)
		if err != nil {
			_ = cleanup.Run(context.Background())
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		cleanup.Register("history", shutdown.PriorityResources, func(ctx context.Context) error {
			return database.Close()
		})
		recorder = db.NewRepository(database)
	}

	apiClient := core.NewHTTPClient(cfg, cfg.RequestTimeout)
	downloader := imagegen.NewDownloader(core.WithTimeout(apiClient, cfg.DownloadTimeout))

	pollerConfig := imagegen.DefaultPollerConfig()
	pollerConfig.MaxAttempts = cfg.PollMaxAttempts
	pollerConfig.MaxDelay = cfg.PollMaxDelay
	if a.sleep != nil {
		pollerConfig.Sleep = a.sleep
	}

	submitter := imagegen.NewSubmitter(apiClient, cfg.BaseURL, logger)
	poller := imagegen.NewPoller(apiClient, cfg.BaseURL, downloader, pollerConfig, logger)

	orchestrator, err := imagegen.NewOrchestrator(submitter, poller, recorder, logger)
	if err != nil {
		_ = cleanup.Run(context.Background())
		return nil, err
	}

	logger.Debug("pipeline ready",
		zap.String("base_url", cfg.BaseURL),
		zap.Int("poll_max_attempts", pollerConfig.MaxAttempts),
		zap.Duration("poll_max_delay", pollerConfig.MaxDelay),
		zap.Float64("requests_per_second", cfg.RequestsPerSecond),
		zap.Bool("history", recorder != nil),
	)

	return &pipeline{
		cfg:          cfg,
		logger:       logger,
		orchestrator: orchestrator,
		cleanup:      cleanup,
	}, nil
}

// invoke runs one task and writes its image. Only setup problems are
// returned as errors; a failed task sets the fallback exit code instead.
func (a *app) invoke(ctx context.Context, inv imagegen.Invocation, outPath string, format imagegen.OutputFormat) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	inv.Credential = cfg.Credential(a.credential)
	if inv.Credential == "" {
		fmt.Fprintf(a.stderr, "Warning: %v\n", core.ErrMissingAuth())
	}

	p, err := a.newPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.cleanup.Run(context.Background()); err != nil {
			fmt.Fprintf(a.stderr, "Warning: %v\n", err)
		}
	}()

	watcher := shutdown.NewWatcher(p.logger, a.forceExit)
	ctx = watcher.Start(ctx)
	defer watcher.Stop()

	res := p.orchestrator.Run(ctx, inv)

	var imagePath string
	if inv.Operation != imagegen.OperationFinetune {
		if format == "" {
			format = imagegen.FormatPNG
		}
		imagePath, err = writeArtifact(res.Artifact, outPath, cfg.OutputDir, res.CorrelationID, format)
		if err != nil {
			return err
		}
	}

	printResult(a.stdout, inv.Operation, res, imagePath)

	switch {
	case watcher.Interrupted():
		a.exitCode = watcher.ExitCode(core.ExitCodeFallback)
	case res.Fallback:
		a.exitCode = core.ExitCodeFallback
	default:
		a.exitCode = core.ExitCodeSuccess
	}
	return nil
}

// writeArtifact encodes artifact to path, or to dir/name.format when path
// is empty, and returns the path written.
func writeArtifact(artifact *imagegen.Artifact, path, dir, name string, format imagegen.OutputFormat) (string, error) {
	if artifact == nil {
		return "", errors.New("no image to write")
	}
	if path == "" {
		path = filepath.Join(dir, name+"."+string(format))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	encodeErr := artifact.Encode(f, format)
	closeErr := f.Close()
	if err := errors.Join(encodeErr, closeErr); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func redactedError(err error) string {
	return logging.RedactSensitiveData(err.Error())
}
