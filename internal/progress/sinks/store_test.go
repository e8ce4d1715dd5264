package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/postgres"
)

// TestStoreSinkPersistsRunLifecycle ensures only run events reach the repository.
func TestStoreSinkPersistsRunLifecycle(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, Label: "nightly", Resumed: true},
		{RunID: runID, Stage: progress.StageUnitDone, TS: now, Unit: "2-discover"},
		{RunID: runID, Stage: progress.StageRunError, TS: now.Add(time.Second), Units: 4, Note: "session expired"},
	}))

	require.Equal(t, []string{runID.String()}, repo.starts)
	require.Equal(t, []string{"nightly"}, repo.labels)
	require.Len(t, repo.completes, 1)
	require.Equal(t, postgres.RunError, repo.completes[0].status)
	require.Equal(t, 4, repo.completes[0].units)
	require.NotNil(t, repo.completes[0].errMsg)
	require.Equal(t, "session expired", *repo.completes[0].errMsg)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeRunRepo{fail: true}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: uuid.New(), Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)

	require.NoError(t, NewStoreSink(nil, nil).Consume(context.Background(), nil))
}

type completeCall struct {
	status postgres.RunStatus
	units  int
	errMsg *string
}

type fakeRunRepo struct {
	fail      bool
	starts    []string
	labels    []string
	completes []completeCall
}

func (f *fakeRunRepo) Start(_ context.Context, runID, label string, _ bool, _ time.Time) error {
	if f.fail {
		return errors.New("db down")
	}
	f.starts = append(f.starts, runID)
	f.labels = append(f.labels, label)
	return nil
}

func (f *fakeRunRepo) Complete(_ context.Context, _ string, _ time.Time, status postgres.RunStatus, units int, errMsg *string) error {
	if f.fail {
		return errors.New("db down")
	}
	f.completes = append(f.completes, completeCall{status: status, units: units, errMsg: errMsg})
	return nil
}
