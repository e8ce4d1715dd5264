package pipeline

import (
	"fmt"
	"time"
)

// Phase names, also used as metric labels.
const (
	PhaseDiscover = "discover"
	PhaseKit      = "kit"
	PhaseFormat   = "format"
	PhaseMerge    = "merge"
	PhaseFlatten  = "flatten"
	PhaseIndex    = "index"
	PhaseExtract  = "extract"
	PhaseManifest = "manifest"
	PhasePublish  = "publish"
)

// UnitStatus is how a unit ended in this attempt.
type UnitStatus string

// Unit statuses.
const (
	// UnitDone means the unit ran to the end. It is marked in the checkpoint
	// unless an incomplete fetch came before it in the same attempt.
	UnitDone UnitStatus = "done"
	// UnitIncomplete means the unit ran but left retryable work, so it stays
	// unmarked and a resumed run finishes it.
	UnitIncomplete UnitStatus = "incomplete"
	// UnitSkipped means an earlier attempt already completed the unit.
	UnitSkipped UnitStatus = "skipped"
	// UnitFailed means the unit did not complete and was left unmarked.
	UnitFailed UnitStatus = "failed"
)

// UnitResult records one unit of this attempt.
type UnitResult struct {
	Unit     string
	Phase    string
	Status   UnitStatus
	Duration time.Duration
	Note     string
}

// Summary reports what a run did. Counts only cover units executed in this
// attempt; units skipped on resume contribute nothing.
type Summary struct {
	RunID   string
	RunDir  string
	Label   string
	Resumed bool

	Addresses int
	Fetched   int
	Failed    int
	Merged    int
	Conflicts int
	Flattened int
	Extracted int
	Published int

	SkippedVariants []string
	Units           []UnitResult
}

func (s *Summary) add(r UnitResult) {
	s.Units = append(s.Units, r)
}

// Count returns how many units of phase ended with status.
func (s Summary) Count(phase string, status UnitStatus) int {
	n := 0
	for _, u := range s.Units {
		if u.Phase == phase && u.Status == status {
			n++
		}
	}
	return n
}

// Warnings flags counts that are zero although their phase ran, plus
// recoverable failures the operator should look at.
func (s Summary) Warnings() []string {
	var out []string
	zero := func(phase string, n int, what string) {
		if s.Count(phase, UnitDone) > 0 && n == 0 {
			out = append(out, fmt.Sprintf("%s ran but %s", phase, what))
		}
	}
	zero(PhaseDiscover, s.Addresses, "found no subcategory addresses")
	zero(PhaseFormat, s.Fetched, "stored no fragments")
	zero(PhaseMerge, s.Merged, "merged no components")
	zero(PhaseFlatten, s.Flattened, "emitted no records")
	zero(PhaseExtract, s.Extracted, "stripped no records")
	if s.Failed > 0 {
		out = append(out, fmt.Sprintf("%d addresses failed after retries; see the outcome log", s.Failed))
	}
	if s.Conflicts > 0 {
		out = append(out, fmt.Sprintf("%d merge conflicts resolved by policy", s.Conflicts))
	}
	for _, u := range s.Units {
		switch u.Status {
		case UnitFailed:
			out = append(out, fmt.Sprintf("unit %s not completed: %s", u.Unit, u.Note))
		case UnitIncomplete:
			out = append(out, fmt.Sprintf("unit %s incomplete: %s; resume to retry", u.Unit, u.Note))
		}
	}
	return out
}
