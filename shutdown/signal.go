package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"fluxtask/core"
	"fluxtask/logging"

	"go.uber.org/zap"
)

// Watcher turns the first SIGINT or SIGTERM into context cancellation and a
// second one into an immediate forced exit.
//
// Cancelling the context lets the poller abandon its wait so the run still
// ends with a placeholder and a history row.
type Watcher struct {
	logger  *logging.Logger
	onForce func(code int)

	mu       sync.Mutex
	count    int
	received os.Signal
	cancel   context.CancelFunc
	sigChan  chan os.Signal
}

// NewWatcher creates a Watcher. onForce is called with the exit code when a
// second signal arrives; nil means os.Exit.
func NewWatcher(logger *logging.Logger, onForce func(code int)) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if onForce == nil {
		onForce = os.Exit
	}
	return &Watcher{
		logger:  logger.Named("shutdown"),
		onForce: onForce,
	}
}

// Start derives a context from parent that is cancelled on the first
// signal. Call Stop when the command is done.
func (w *Watcher) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	w.mu.Lock()
	w.cancel = cancel
	w.sigChan = make(chan os.Signal, 2)
	sigChan := w.sigChan
	w.mu.Unlock()

	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			w.handle(sig)
		}
	}()
	return ctx
}

// Stop releases the signal subscription and the derived context.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sigChan != nil {
		signal.Stop(w.sigChan)
		close(w.sigChan)
		w.sigChan = nil
	}
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) handle(sig os.Signal) {
	w.mu.Lock()
	w.count++
	count := w.count
	if count == 1 {
		w.received = sig
	}
	cancel := w.cancel
	w.mu.Unlock()

	if count == 1 {
		w.logger.Info("received signal, cancelling run", zap.String("signal", sig.String()))
		if cancel != nil {
			cancel()
		}
		return
	}
	w.logger.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
	w.onForce(ExitCodeForSignal(sig))
}

// Interrupted reports whether a signal was received.
func (w *Watcher) Interrupted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.received != nil
}

// ExitCode returns the exit code for the first signal received, or
// fallback when none arrived.
func (w *Watcher) ExitCode(fallback int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.received == nil {
		return fallback
	}
	return ExitCodeForSignal(w.received)
}

// ExitCodeForSignal maps SIGINT and SIGTERM to their conventional codes.
func ExitCodeForSignal(sig os.Signal) int {
	switch sig {
	case os.Interrupt:
		return core.ExitCodeSIGINT
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	default:
		return core.ExitCodeError
	}
}
