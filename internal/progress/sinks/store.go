package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/postgres"
)

// RunRepository persists run lifecycle rows. *postgres.RunStore satisfies it.
type RunRepository interface {
	Start(ctx context.Context, runID, label string, resumed bool, at time.Time) error
	Complete(ctx context.Context, runID string, at time.Time, status postgres.RunStatus, units int, errMsg *string) error
}

// StoreSink records run start and completion through a RunRepository.
type StoreSink struct {
	repo   RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume implements progress.Sink. Unit and extraction events are ignored;
// they are already in the outcome log and the checkpoint.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		runID := evt.RunID.String()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.Start(ctx, runID, evt.Label, evt.Resumed, evt.TS); err != nil {
				return fmt.Errorf("record run start: %w", err)
			}
		case progress.StageRunDone:
			if err := s.repo.Complete(ctx, runID, evt.TS, postgres.RunSuccess, evt.Units, nil); err != nil {
				return fmt.Errorf("record run completion: %w", err)
			}
		case progress.StageRunError:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.Complete(ctx, runID, evt.TS, postgres.RunError, evt.Units, note); err != nil {
				return fmt.Errorf("record run failure: %w", err)
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
