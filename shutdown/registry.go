// Package shutdown coordinates the end of a command run: ordered cleanup of
// opened resources and translation of interrupt signals into context
// cancellation and exit codes.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// CleanupFunc releases one resource. It should honor ctx.
type CleanupFunc func(ctx context.Context) error

// Cleanup priorities. Lower runs first.
const (
	PriorityResources = 30 // databases, files
	PriorityLogger    = 90 // flush logs last so earlier failures are captured
)

type entry struct {
	name     string
	priority int
	fn       CleanupFunc
}

// Registry is an ordered set of cleanup functions.
//
// Usage:
//
//	registry := shutdown.NewRegistry()
//	registry.Register("history", shutdown.PriorityResources, func(ctx context.Context) error {
//	    return database.Close()
//	})
//	defer registry.Run(context.Background())
type Registry struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registration after Run is a no-op.
func (r *Registry) Register(name string, priority int, fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || fn == nil {
		return
	}
	r.entries = append(r.entries, entry{name: name, priority: priority, fn: fn})
}

// Run calls every registered function in priority order, registration order
// breaking ties. All functions run even when some fail; the failures are
// joined. Run is idempotent.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sorted := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, e := range sorted {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// Names returns the registered names in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := r.sortedLocked()
	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.name
	}
	return names
}

func (r *Registry) sortedLocked() []entry {
	sorted := make([]entry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}
