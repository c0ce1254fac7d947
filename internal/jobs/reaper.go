package jobs

import (
	"time"

	"go.uber.org/zap"

	"github.com/Guti2010/compute-server/internal/apperr"
)

const reaperTick = 250 * time.Millisecond
const persistTick = 2 * time.Second

// reaperLoop is the backstop for deadline enforcement: runJob's own grace
// timer handles the common case, but a worker goroutine wedged before it
// could start its timer (GC pause, scheduler starvation) would otherwise
// leave a job stuck Running forever. The reaper sweeps every tick and force
// -finalizes anything that has been Running past its deadline plus grace.
// It also drives the periodic (non-terminal-triggered) persistence cadence.
func (m *Manager) reaperLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(reaperTick)
	defer ticker.Stop()

	lastPersist := m.clock.Now()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sweep(now)
			if now.Sub(lastPersist) >= persistTick {
				m.persist()
				lastPersist = now
			}
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.recordsMu.RLock()
	recs := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r)
	}
	m.recordsMu.RUnlock()

	for _, rec := range recs {
		snap := rec.snapshot()
		if snap.State != Running {
			continue
		}
		grace := m.graceFor(snap.Deadline.Sub(snap.CreatedAt))
		if now.Before(snap.Deadline.Add(grace + reaperTick)) {
			continue
		}
		if rec.finish(now, Timeout, nil, apperr.KindTimeout, "reaper: job exceeded deadline and grace window") {
			m.log.Warn("reaper force-finalized stuck job", zap.String("job_id", snap.ID))
		}
	}
}
