package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageUnitDone    Stage = "UNIT_DONE"
	StageUnitSkipped Stage = "UNIT_SKIPPED"
	StageUnitFailed  Stage = "UNIT_FAILED"
	StageExtract     Stage = "EXTRACT_PROGRESS"
)

// Event is a single progress milestone.
type Event struct {
	// RunID identifies the harvest run.
	RunID uuid.UUID
	// TS is the UTC time the emitter recorded the event.
	TS    time.Time
	Stage Stage
	// Label and Resumed describe the run on RUN_START.
	Label   string
	Resumed bool
	// Unit and Phase scope unit events.
	Unit  string
	Phase string
	// File, Processed and Total describe extraction progress.
	File      string
	Processed int64
	Total     int64
	// Units is the number of completed units on RUN_DONE and RUN_ERROR.
	Units int
	Dur   time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageUnitDone, StageUnitSkipped, StageUnitFailed:
		if e.Unit == "" {
			return errors.New("unit events require a unit")
		}
	case StageExtract:
		if e.File == "" {
			return errors.New("extract progress requires a file")
		}
		if e.Processed < 0 || e.Total < 0 || e.Processed > e.Total {
			return fmt.Errorf("invalid progress %d/%d", e.Processed, e.Total)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}
