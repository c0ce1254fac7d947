// Package jobqueue implements the priority queue backing the async job
// path: three FIFO-within-band priority lanes (high, normal, low) with an
// aging rule that promotes a job stuck in a lower band long enough to
// prevent starvation. This is the only place priority exists in the system
// — the synchronous pools in internal/sched are plain FIFO.
package jobqueue

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Priority is one of the three bands a job can be enqueued under.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// ParsePriority maps the wire-level prio= value onto a Priority, defaulting
// to Normal for anything else.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return High
	case "low":
		return Low
	default:
		return Normal
	}
}

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Low:
		return "low"
	default:
		return "normal"
	}
}

// DefaultAgingThreshold is how long a job waits in its band before being
// promoted one level to prevent starvation.
const DefaultAgingThreshold = 30 * time.Second

// AgingDisabled is an aging threshold no real job ever reaches; passing it
// to New gives strict priority with no band promotion.
const AgingDisabled = time.Duration(1) << 62

// entry is a node in one of the priority lists. enqueuedAt is preserved
// across promotions so FIFO ordering within the destination band still
// respects true wait time, not promotion time.
type entry struct {
	jobID      string
	priority   Priority
	enqueuedAt time.Time
}

// Queue is a capacity-bounded, priority-ordered, aging job queue. Capacity
// tracks queued+running jobs via inFlight, incremented on Enqueue and
// decremented by Remove (cancel before dequeue) or Release (job reached a
// terminal state after running).
type Queue struct {
	mu       sync.Mutex
	bands    [3]*list.List // indexed by Priority
	nodes    map[string]*list.Element
	bandOf   map[string]Priority
	wake     chan struct{}
	capacity int
	inFlight int
	aging    time.Duration
	clock    func() time.Time
	closed   bool
}

// New builds a Queue with the given admission capacity. aging <= 0 uses
// DefaultAgingThreshold.
func New(capacity int, aging time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if aging <= 0 {
		aging = DefaultAgingThreshold
	}
	q := &Queue{
		bands:    [3]*list.List{list.New(), list.New(), list.New()},
		nodes:    make(map[string]*list.Element),
		bandOf:   make(map[string]Priority),
		wake:     make(chan struct{}, 1),
		capacity: capacity,
		aging:    aging,
		clock:    time.Now,
	}
	return q
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports current queued+running admissions against capacity.
func (q *Queue) Len() (inFlight, capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight, q.capacity
}

// Enqueue admits jobID at priority p. ok is false if the queue is at
// capacity or closed; the caller should surface QueueFull in that case.
func (q *Queue) Enqueue(jobID string, p Priority) (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.inFlight >= q.capacity {
		return false
	}
	e := &entry{jobID: jobID, priority: p, enqueuedAt: q.clock()}
	elem := q.bands[p].PushBack(e)
	q.nodes[jobID] = elem
	q.bandOf[jobID] = p
	q.inFlight++
	q.notify()
	return true
}

// promoteAgedLocked walks Low and Normal bands, moving any entry older
// than the aging threshold up one band. Must hold q.mu.
func (q *Queue) promoteAgedLocked(now time.Time) {
	for _, band := range []Priority{Low, Normal} {
		var next *list.Element
		for elem := q.bands[band].Front(); elem != nil; elem = next {
			next = elem.Next()
			e := elem.Value.(*entry)
			if now.Sub(e.enqueuedAt) < q.aging {
				continue
			}
			q.bands[band].Remove(elem)
			dst := q.bands[band+1]
			// Keep the destination band ordered by enqueuedAt so a promoted
			// job's true wait time still counts against jobs enqueued there
			// directly after it.
			var before *list.Element
			for el := dst.Front(); el != nil; el = el.Next() {
				if el.Value.(*entry).enqueuedAt.After(e.enqueuedAt) {
					before = el
					break
				}
			}
			var newElem *list.Element
			if before != nil {
				newElem = dst.InsertBefore(e, before)
			} else {
				newElem = dst.PushBack(e)
			}
			q.nodes[e.jobID] = newElem
			q.bandOf[e.jobID] = band + 1
		}
	}
}

// dequeueOnceLocked pops the oldest entry from the highest non-empty band.
// Must hold q.mu.
func (q *Queue) dequeueOnceLocked() (string, bool) {
	for band := High; band >= Low; band-- {
		if front := q.bands[band].Front(); front != nil {
			e := front.Value.(*entry)
			q.bands[band].Remove(front)
			delete(q.nodes, e.jobID)
			delete(q.bandOf, e.jobID)
			return e.jobID, true
		}
	}
	return "", false
}

// Dequeue blocks until a job is available, the queue is closed, or ctx is
// done. Aging is evaluated both opportunistically on each wake and on a
// periodic tick, so a queue sitting idle still ages its waiting jobs.
func (q *Queue) Dequeue(ctx context.Context) (string, bool) {
	ticker := time.NewTicker(q.aging / 4)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		if q.closed && q.empty() {
			q.mu.Unlock()
			return "", false
		}
		q.promoteAgedLocked(q.clock())
		if id, ok := q.dequeueOnceLocked(); ok {
			q.mu.Unlock()
			return id, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ticker.C:
		case <-ctx.Done():
			return "", false
		}
	}
}

func (q *Queue) empty() bool {
	return q.bands[High].Len() == 0 && q.bands[Normal].Len() == 0 && q.bands[Low].Len() == 0
}

// Remove cancels a still-queued job before it was dequeued. ok is false if
// the job already left the queue (dequeued, or never existed).
func (q *Queue) Remove(jobID string) (ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	elem, found := q.nodes[jobID]
	if !found {
		return false
	}
	band := q.bandOf[jobID]
	q.bands[band].Remove(elem)
	delete(q.nodes, jobID)
	delete(q.bandOf, jobID)
	q.inFlight--
	return true
}

// Release decrements inFlight for a job that was dequeued and has now
// reached a terminal state. Call exactly once per successful Dequeue whose
// job did not go through Remove.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
}

// Close stops future Dequeue calls once the queue drains; already-queued
// jobs can still be dequeued by callers racing the close.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}
