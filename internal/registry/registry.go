// Package registry is the single source of truth mapping a command name to
// its resource category, default timeout, and executable handler. Both the
// synchronous dispatcher and the async job manager resolve commands through
// it, so a command is wired once and runs the same way in either path.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/Guti2010/compute-server/internal/progress"
	"github.com/Guti2010/compute-server/internal/resp"
)

// Category is one of the three resource pools. Every command in a category
// shares the same bounded worker pool.
type Category string

const (
	Basic    Category = "basic"
	CPUBound Category = "cpu_bound"
	IOBound  Category = "io_bound"
)

// Handler executes one command. It must honor ctx cancellation for anything
// that can run longer than a few milliseconds. sink is progress.Noop for the
// synchronous path; the job manager supplies a real one.
type Handler func(ctx context.Context, params map[string]string, sink progress.Sink) resp.Result

// Entry is everything the dispatcher and job manager need to run a command.
type Entry struct {
	Name     string
	Category Category
	Timeout  time.Duration
	Fn       Handler
}

// Registry is a read-mostly command table built once at startup via
// Register and looked up concurrently by every connection goroutine.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces a command. Intended for startup wiring only;
// safe to call concurrently but not meant for steady-state mutation.
func (r *Registry) Register(name string, category Category, timeout time.Duration, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{Name: name, Category: category, Timeout: timeout, Fn: fn}
}

// Lookup resolves a command name. ok is false for KindUnknownCommand callers.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// All returns every registered entry, sorted by name, for /help and /status.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(e []Entry) {
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && e[j].Name < e[j-1].Name; j-- {
			e[j], e[j-1] = e[j-1], e[j]
		}
	}
}
