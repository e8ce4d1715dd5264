package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uiblocks-harvester/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures run and extraction events update the collectors.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageUnitDone, Unit: "2-discover"},
		{RunID: runID, TS: now, Stage: progress.StageUnitSkipped, Unit: "8-index"},
		{RunID: runID, TS: now, Stage: progress.StageExtract, File: "react-v4.ndjson", Processed: 50, Total: 200},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runInProgress))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.unitEvents.WithLabelValues(string(progress.StageUnitDone))))
	require.Equal(t, 50.0, testutil.ToFloat64(sink.extractDone.WithLabelValues("react-v4.ndjson")))
	require.Equal(t, 200.0, testutil.ToFloat64(sink.extractTotal.WithLabelValues("react-v4.ndjson")))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now.Add(time.Minute), Stage: progress.StageRunDone, Dur: time.Minute},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runInProgress))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runRuntime, "harvester_run_runtime_seconds"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "collectors register once per registry")
}
