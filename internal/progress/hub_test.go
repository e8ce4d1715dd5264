package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageUnitDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies a small batch is flushed after MaxBatchWait.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNeverBlocks asserts a full buffer drops instead of blocking.
func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(1), hub.Dropped())
}

// TestHubFlushOnClose ensures Close drains queued events and closes sinks.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageRunStart))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()), "close is idempotent")
	require.Len(t, sink.Batches(), 1)
	assert.True(t, sink.closed)

	hub.Emit(sampleEvent(StageRunDone))
	assert.Len(t, sink.Batches(), 1, "emits after close are ignored")
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StageRunStart})
	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.Batches())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ok := sampleEvent(StageExtract)
	ok.File, ok.Processed, ok.Total = "html-v4.ndjson", 3, 10
	require.NoError(t, ok.Validate())

	tests := map[string]func(*Event){
		"missing run":     func(e *Event) { e.RunID = uuid.Nil },
		"missing ts":      func(e *Event) { e.TS = time.Time{} },
		"unknown stage":   func(e *Event) { e.Stage = "NOPE" },
		"missing file":    func(e *Event) { e.File = "" },
		"overrun":         func(e *Event) { e.Processed = 11 },
		"negative dur":    func(e *Event) { e.Dur = -time.Second },
		"unit without id": func(e *Event) { e.Stage, e.Unit = StageUnitDone, "" },
	}
	for name, mutate := range tests {
		evt := ok
		mutate(&evt)
		assert.Error(t, evt.Validate(), name)
	}
	assert.True(t, Event{Stage: StageRunError}.Terminal())
	assert.False(t, ok.Terminal())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID: uuid.New(),
		TS:    time.Now().UTC(),
		Stage: stage,
		Unit:  "2-discover",
	}
}
