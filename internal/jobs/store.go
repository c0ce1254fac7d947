package jobs

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Guti2010/compute-server/internal/apperr"
)

// Store persists the job records table as a single JSON snapshot. Writes
// are atomic (temp file + rename) so a crash mid-write never corrupts the
// file a subsequent startup reads. There is no third-party embedded-store
// dependency reached for here: the whole table is small (one process's job
// history) and a single atomic file write is the same mechanism the rest
// of the Go ecosystem reaches for at this scale — see DESIGN.md.
type Store struct {
	path string
	log  *zap.Logger
}

// NewStore builds a Store writing to path. log may be nil.
func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Save atomically overwrites the snapshot file with records.
func (s *Store) Save(records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".jobs-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Load reads the snapshot file. A missing file is not an error — it means
// first startup — and yields an empty slice. A corrupt file is logged as a
// diagnostic and also yields an empty slice, rather than failing startup.
func (s *Store) Load() []Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("job store: could not read snapshot, starting empty", zap.Error(err))
		}
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn("job store: snapshot corrupt, starting empty", zap.Error(err))
		return nil
	}
	return records
}

// persist writes the current records table if persistence is enabled.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(m.List()); err != nil {
		m.log.Warn("job store: save failed", zap.Error(err))
	}
}

// recover loads the last snapshot and marks any record that was left
// Queued or Running (the process died mid-job) as Error{RecoveryAborted},
// on restart: those jobs' outcomes are unknown
// and must not be reported as if they were still in flight.
func (m *Manager) recover() {
	records := m.store.Load()
	if len(records) == 0 {
		return
	}

	now := m.clock.Now()
	m.recordsMu.Lock()
	for i := range records {
		snap := records[i]
		rec := &Record{
			ID:        snap.ID,
			Command:   snap.Command,
			Params:    snap.Params,
			Category:  snap.Category,
			Priority:  snap.Priority,
			PrioName:  snap.PrioName,
			State:     snap.State,
			Progress:  snap.Progress,
			CreatedAt: snap.CreatedAt,
			StartedAt: snap.StartedAt,
			EndedAt:   snap.EndedAt,
			Deadline:  snap.Deadline,
			Result:    snap.Result,
			ErrKind:   snap.ErrKind,
			ErrMsg:    snap.ErrMsg,

			CancelRequested: snap.CancelRequested,
		}
		if !rec.State.Terminal() {
			rec.State = Error
			rec.EndedAt = &now
			rec.ErrKind = apperr.KindRecoveryAborted
			rec.ErrMsg = "process restarted while job was in flight"
		}
		m.records[rec.ID] = rec
	}
	m.recordsMu.Unlock()

	m.log.Info("job store: recovered snapshot", zap.Int("count", len(records)))
	m.persist()
}
