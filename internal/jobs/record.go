// Package jobs implements the async job path: Submit enqueues a command to
// run in the background under internal/jobqueue's priority rules; Status,
// Result, Cancel, and List inspect or affect a running or finished job.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Guti2010/compute-server/internal/apperr"
	"github.com/Guti2010/compute-server/internal/jobqueue"
	"github.com/Guti2010/compute-server/internal/registry"
	"github.com/Guti2010/compute-server/internal/resp"
)

// State is a job's position in its lifecycle. Transitions are one-way:
// Queued -> {Running, Canceled}; Running -> {Done, Error, Timeout, Canceled}.
// Once a job reaches Done, Error, Timeout, or Canceled it never changes again.
type State string

const (
	Queued   State = "queued"
	Running  State = "running"
	Done     State = "done"
	Error    State = "error"
	Timeout  State = "timeout"
	Canceled State = "canceled"
)

// Terminal reports whether s is one of the no-further-transition states.
func (s State) Terminal() bool {
	switch s {
	case Done, Error, Timeout, Canceled:
		return true
	default:
		return false
	}
}

// Record is one job's full state. Every field access outside of this file
// goes through a method that takes mu, so callers never need to reason
// about the lock themselves. mu is distinct from the Manager's records-table
// lock: that one protects the map of IDs to *Record, this one protects a
// single job's fields.
type Record struct {
	mu sync.Mutex

	ID        string            `json:"id"`
	Command   string            `json:"command"`
	Params    map[string]string `json:"params,omitempty"`
	Category  registry.Category `json:"category"`
	Priority  jobqueue.Priority `json:"-"`
	PrioName  string            `json:"priority"`
	State     State             `json:"state"`
	Progress  int               `json:"progress"`
	CreatedAt time.Time         `json:"created_at"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Deadline  time.Time         `json:"deadline"`
	Result    *resp.Result      `json:"result,omitempty"`
	ErrKind   apperr.Kind       `json:"error_kind,omitempty"`
	ErrMsg    string            `json:"error_message,omitempty"`

	CancelRequested bool `json:"cancel_requested"`

	cancel context.CancelFunc
}

// snapshot returns a value copy safe to serialize or hand to a caller
// without risk of a concurrent writer mutating it mid-read.
func (r *Record) snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r
	cp.cancel = nil
	return cp
}

// markRunning transitions Queued -> Running. No-op if already past Queued
// (a cancellation may have raced it).
func (r *Record) markRunning(now time.Time, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != Queued {
		return false
	}
	r.State = Running
	r.StartedAt = &now
	r.cancel = cancel
	return true
}

// finish transitions Running -> a terminal state. No-op if the record is
// already terminal, which enforces at-most-once terminality against races
// between the worker's own completion and the reaper's grace-window sweep.
func (r *Record) finish(now time.Time, state State, result *resp.Result, errKind apperr.Kind, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State.Terminal() {
		return false
	}
	r.State = state
	r.EndedAt = &now
	r.Result = result
	r.ErrKind = errKind
	r.ErrMsg = errMsg
	r.cancel = nil
	return true
}

// cancelQueued transitions Queued -> Canceled directly, for a job that
// never started running.
func (r *Record) cancelQueued(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != Queued {
		return false
	}
	r.State = Canceled
	r.EndedAt = &now
	r.CancelRequested = true
	r.ErrKind = apperr.KindCanceled
	r.ErrMsg = "canceled before running"
	return true
}

// requestCancel signals a Running job's context to stop. Returns false if
// the job isn't currently running (queued or already terminal); the caller
// then tries cancelQueued instead.
func (r *Record) requestCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != Running || r.cancel == nil {
		return false
	}
	r.CancelRequested = true
	r.cancel()
	return true
}

func (r *Record) setProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State == Running {
		r.Progress = p
	}
}

func (r *Record) state() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State
}
