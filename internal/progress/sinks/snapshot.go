package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
)

// Run statuses reported by Snapshot.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// FileProgress is processed/total for one record stream.
type FileProgress struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

// Snapshot is the latest known state of the current run.
type Snapshot struct {
	RunID        string                  `json:"run_id,omitempty"`
	Label        string                  `json:"label,omitempty"`
	Resumed      bool                    `json:"resumed"`
	Status       string                  `json:"status"`
	StartedAt    time.Time               `json:"started_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
	UnitsDone    int                     `json:"units_done"`
	UnitsSkipped int                     `json:"units_skipped"`
	UnitsFailed  int                     `json:"units_failed"`
	LastUnit     string                  `json:"last_unit,omitempty"`
	Extract      map[string]FileProgress `json:"extract"`
	Note         string                  `json:"note,omitempty"`
}

// SnapshotSink folds events into a Snapshot for the status server.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotSink returns an idle snapshot.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{snap: Snapshot{Status: StatusIdle, Extract: map[string]FileProgress{}}}
}

// Consume implements progress.Sink.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.snap = Snapshot{
				RunID:     evt.RunID.String(),
				Label:     evt.Label,
				Resumed:   evt.Resumed,
				Status:    StatusRunning,
				StartedAt: evt.TS,
				Extract:   map[string]FileProgress{},
			}
		case progress.StageRunDone:
			s.snap.Status = StatusSuccess
		case progress.StageRunError:
			s.snap.Status = StatusError
			s.snap.Note = evt.Note
		case progress.StageUnitDone:
			s.snap.UnitsDone++
			s.snap.LastUnit = evt.Unit
		case progress.StageUnitSkipped:
			s.snap.UnitsSkipped++
		case progress.StageUnitFailed:
			s.snap.UnitsFailed++
			s.snap.Note = evt.Note
		case progress.StageExtract:
			s.snap.Extract[evt.File] = FileProgress{Processed: evt.Processed, Total: evt.Total}
		}
		s.snap.UpdatedAt = evt.TS
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *SnapshotSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Extract = make(map[string]FileProgress, len(s.snap.Extract))
	for k, v := range s.snap.Extract {
		out.Extract[k] = v
	}
	return out
}

// Close implements progress.Sink.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
