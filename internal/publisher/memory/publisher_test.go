package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "dataset.ready", map[string]string{"run_id": "r-1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "dataset.ready", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"run_id":"r-1"}`, string(msgs[0].Data))
	assert.Equal(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Kind = "modified"
	assert.Equal(t, "dataset.ready", pub.Messages()[0].Kind, "Messages returns a copy")
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	_, err := pub.Publish(context.Background(), "k", 1)
	require.EqualError(t, err, "broker down")

	_, err = New().Publish(context.Background(), "k", func() {})
	require.Error(t, err, "unencodable payloads are rejected")
	assert.Empty(t, pub.Messages())
}
