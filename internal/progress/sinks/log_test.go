package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
)

func TestLogSinkWarnsOnFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	runID := uuid.New()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageExtract, File: "vue-v3.ndjson", Processed: 1, Total: 2},
		{RunID: runID, TS: time.Now(), Stage: progress.StageUnitFailed, Unit: "4-kit-catalyst", Note: "404"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "vue-v3.ndjson", entries[0].ContextMap()["file"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "404", entries[1].ContextMap()["note"])
}
