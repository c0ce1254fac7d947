package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Guti2010/compute-server/internal/apperr"
	"github.com/Guti2010/compute-server/internal/jobqueue"
	"github.com/Guti2010/compute-server/internal/progress"
	"github.com/Guti2010/compute-server/internal/registry"
	"github.com/Guti2010/compute-server/internal/resp"
	"github.com/Guti2010/compute-server/internal/util"
)

// CategoryConfig sizes the worker pool and queue behind one category.
// DisableAging switches the category's queue to strict priority with no
// band promotion, regardless of how long a job has waited.
type CategoryConfig struct {
	Workers      int
	Capacity     int
	AgingWindow  time.Duration
	DisableAging bool
}

// Manager owns every job's lifecycle: admission into a priority queue,
// execution by a small per-category worker pool, and terminal-state
// bookkeeping. It is the async counterpart to internal/sched's pools.
type Manager struct {
	reg          *registry.Registry
	idgen        util.IDGen
	clock        util.Clock
	log          *zap.Logger
	store        *Store
	graceCeiling time.Duration

	queues map[registry.Category]*jobqueue.Queue

	recordsMu sync.RWMutex
	records   map[string]*Record

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a Manager and starts its worker pools and reaper. store
// may be nil to disable persistence (used in tests). graceCeiling bounds the
// post-deadline grace window: a job gets min(2 x its timeout, graceCeiling)
// after the deadline before it is abandoned.
func NewManager(reg *registry.Registry, idgen util.IDGen, clock util.Clock, log *zap.Logger, store *Store, graceCeiling time.Duration, cfg map[registry.Category]CategoryConfig) *Manager {
	if clock == nil {
		clock = util.RealClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	if graceCeiling <= 0 {
		graceCeiling = 30 * time.Second
	}
	m := &Manager{
		reg:          reg,
		idgen:        idgen,
		clock:        clock,
		log:          log,
		store:        store,
		graceCeiling: graceCeiling,
		queues:       make(map[registry.Category]*jobqueue.Queue),
		records:      make(map[string]*Record),
		stopCh:       make(chan struct{}),
	}

	for cat, c := range cfg {
		aging := c.AgingWindow
		if c.DisableAging {
			aging = jobqueue.AgingDisabled
		}
		m.queues[cat] = jobqueue.New(c.Capacity, aging)
		for i := 0; i < c.Workers; i++ {
			m.wg.Add(1)
			go m.workerLoop(cat)
		}
	}

	m.wg.Add(1)
	go m.reaperLoop()

	if store != nil {
		m.recover()
	}

	return m
}

// Close stops every worker and the reaper, then waits for them to exit.
func (m *Manager) Close() {
	close(m.stopCh)
	for _, q := range m.queues {
		q.Close()
	}
	m.wg.Wait()
}

// Submit admits a new job. It returns KindUnknownCommand if the command
// isn't registered and KindQueueFull if the category's queue is at capacity.
func (m *Manager) Submit(command string, params map[string]string, prio jobqueue.Priority, timeout time.Duration) (string, *apperr.Error) {
	entry, ok := m.reg.Lookup(command)
	if !ok {
		return "", apperr.New(apperr.KindUnknownCommand, "unknown command %q", command)
	}
	q, ok := m.queues[entry.Category]
	if !ok {
		return "", apperr.New(apperr.KindServerError, "no queue wired for category %s", entry.Category)
	}
	if timeout <= 0 {
		timeout = entry.Timeout
	}

	now := m.clock.Now()
	id := m.idgen.NewID()
	rec := &Record{
		ID:        id,
		Command:   command,
		Params:    params,
		Category:  entry.Category,
		Priority:  prio,
		PrioName:  prio.String(),
		State:     Queued,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
	}

	m.recordsMu.Lock()
	m.records[id] = rec
	m.recordsMu.Unlock()

	if !q.Enqueue(id, prio) {
		// Rejected admissions must not leave a record behind.
		m.recordsMu.Lock()
		delete(m.records, id)
		m.recordsMu.Unlock()
		return "", apperr.New(apperr.KindQueueFull, "%s job queue is full", entry.Category)
	}

	m.persist()
	return id, nil
}

// Status returns a point-in-time copy of a job's record.
func (m *Manager) Status(id string) (Record, bool) {
	rec, ok := m.lookup(id)
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// Result returns the terminal result, or KindNotReady if the job hasn't
// finished yet.
func (m *Manager) Result(id string) (resp.Result, *apperr.Error) {
	rec, ok := m.lookup(id)
	if !ok {
		return resp.Result{}, apperr.New(apperr.KindNotFound, "job %s not found", id)
	}
	snap := rec.snapshot()
	if !snap.State.Terminal() {
		return resp.Result{}, apperr.New(apperr.KindNotReady, "job %s has not finished", id)
	}
	if snap.Result != nil {
		return *snap.Result, nil
	}
	return resp.Result{}, apperr.New(snap.ErrKind, "%s", snap.ErrMsg)
}

// Cancel requests cancellation of a queued or running job. It returns
// KindAlreadyFinished if the job was already terminal.
func (m *Manager) Cancel(id string) *apperr.Error {
	rec, ok := m.lookup(id)
	if !ok {
		return apperr.New(apperr.KindNotFound, "job %s not found", id)
	}

	if rec.requestCancel() {
		return nil
	}

	snap := rec.snapshot()
	if snap.State == Queued {
		if q, ok := m.queues[snap.Category]; ok && q.Remove(id) {
			rec.cancelQueued(m.clock.Now())
			m.persist()
			return nil
		}
	}
	if snap.State.Terminal() {
		return apperr.New(apperr.KindAlreadyFinished, "job %s already %s", id, snap.State)
	}
	return apperr.New(apperr.KindNotReady, "job %s could not be canceled", id)
}

// List returns every known job's snapshot, newest first.
func (m *Manager) List() []Record {
	m.recordsMu.RLock()
	recs := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	m.recordsMu.RUnlock()

	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.snapshot()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Manager) lookup(id string) (*Record, bool) {
	m.recordsMu.RLock()
	defer m.recordsMu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *Manager) workerLoop(cat registry.Category) {
	defer m.wg.Done()
	q := m.queues[cat]
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}
		id, ok := q.Dequeue(contextUntilStop(m.stopCh))
		if !ok {
			return
		}
		m.runJob(cat, id, q)
	}
}

// runJob executes one job: mark running, run the handler in a background
// goroutine, and wait for it up to deadline plus grace. If the handler
// ignores cancellation and outlives the grace window, the worker abandons
// it — gives up waiting and returns to the loop to pick up the next job —
// rather than blocking this worker slot forever on a hung handler.
func (m *Manager) runJob(cat registry.Category, id string, q *jobqueue.Queue) {
	rec, ok := m.lookup(id)
	if !ok {
		q.Release()
		return
	}

	snap := rec.snapshot()
	if snap.State != Queued {
		q.Release()
		return
	}

	entry, found := m.reg.Lookup(snap.Command)
	if !found {
		rec.finish(m.clock.Now(), Error, nil, apperr.KindUnknownCommand, "command no longer registered")
		q.Release()
		m.persist()
		return
	}

	ctx, cancel := context.WithDeadline(context.Background(), snap.Deadline)
	if !rec.markRunning(m.clock.Now(), cancel) {
		cancel()
		q.Release()
		return
	}
	m.persist()

	resultCh := make(chan resp.Result, 1)
	go func() {
		defer cancel()
		resultCh <- m.execute(ctx, entry, rec)
	}()

	waitUntil := snap.Deadline.Add(m.graceFor(snap.Deadline.Sub(snap.CreatedAt)))
	timer := time.NewTimer(time.Until(waitUntil))
	defer timer.Stop()

	select {
	case result := <-resultCh:
		now := m.clock.Now()
		// Terminal-cause precedence: a requested cancel beats whatever the
		// handler returned, and an exceeded deadline beats an ordinary error.
		if rec.snapshot().CancelRequested {
			rec.finish(now, Canceled, nil, apperr.KindCanceled, "canceled on request")
		} else {
			state, kind, msg := classify(result)
			if state == Error && ctx.Err() == context.DeadlineExceeded {
				state, kind, msg = Timeout, apperr.KindTimeout, "execution exceeded deadline"
			}
			rec.finish(now, state, &result, kind, msg)
		}
	case <-timer.C:
		m.log.Warn("job exceeded grace window, abandoning handler goroutine",
			zap.String("job_id", id), zap.String("command", snap.Command))
		rec.finish(m.clock.Now(), Timeout, nil, apperr.KindTimeout, "handler did not honor cancellation within grace window")
	case <-m.stopCh:
		rec.finish(m.clock.Now(), Canceled, nil, apperr.KindCanceled, "server shutting down")
	}

	q.Release()
	m.persist()
}

func (m *Manager) execute(ctx context.Context, entry registry.Entry, rec *Record) (result resp.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = resp.FromAppErr(apperr.New(apperr.KindServerError, "handler panic: %v", r))
		}
	}()
	sink := progress.New(func(p int) { rec.setProgress(p) })
	return entry.Fn(ctx, rec.snapshot().Params, sink)
}

func classify(r resp.Result) (State, apperr.Kind, string) {
	switch {
	case r.Status >= 200 && r.Status < 300:
		return Done, "", ""
	case r.Status == 504:
		return Timeout, apperr.KindTimeout, "execution timed out"
	case r.Status == 409:
		return Canceled, apperr.KindCanceled, "canceled"
	default:
		if r.ErrKind != "" {
			return Error, r.ErrKind, r.ErrMsg
		}
		kind := apperr.KindServerError
		msg := r.Body
		if r.Err != nil {
			kind = apperr.Kind(r.Err.Code)
			msg = r.Err.Detail
		}
		return Error, kind, msg
	}
}

// graceFor computes the post-deadline grace window for a job that was given
// timeout to run: twice the timeout, capped at the configured ceiling.
func (m *Manager) graceFor(timeout time.Duration) time.Duration {
	g := 2 * timeout
	if g <= 0 || g > m.graceCeiling {
		g = m.graceCeiling
	}
	return g
}

func contextUntilStop(stop <-chan struct{}) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}
