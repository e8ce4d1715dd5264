package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextAcceptsNumbers(t *testing.T) {
	t.Parallel()

	var s Snippet
	require.NoError(t, json.Unmarshal([]byte(`{"code":"<div/>","version":4}`), &s))
	assert.Equal(t, Text("4"), s.Version)

	require.NoError(t, json.Unmarshal([]byte(`{"version":"4.1"}`), &s))
	assert.Equal(t, Text("4.1"), s.Version)

	require.NoError(t, json.Unmarshal([]byte(`{"version":null}`), &s))
	assert.Equal(t, Text(""), s.Version)
}

func TestTreeSetAndPaths(t *testing.T) {
	t.Parallel()

	tree := Tree{}
	_, existed := tree.Set(Path{"B", "x", "y", "z"}, Leaf{UUID: "2"})
	assert.False(t, existed)
	tree.Set(Path{"A", "x", "y", "z"}, Leaf{UUID: "1"})
	prev, existed := tree.Set(Path{"A", "x", "y", "z"}, Leaf{UUID: "3"})
	assert.True(t, existed)
	assert.Equal(t, "1", prev.UUID)

	assert.Equal(t, 2, tree.Len())
	assert.Equal(t, []Path{{"A", "x", "y", "z"}, {"B", "x", "y", "z"}}, tree.Paths())

	leaf, ok := tree.Get(Path{"A", "x", "y", "z"})
	require.True(t, ok)
	assert.Equal(t, "3", leaf.UUID)
	_, ok = tree.Get(Path{"C", "x", "y", "z"})
	assert.False(t, ok)
}

func TestRecordEncodesAbsentModesAsNull(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Record{ID: "a/b/c/d", Light: &Snippet{Code: "<div/>"}})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "null", string(raw["dark"]))
	assert.Equal(t, "null", string(raw["system"]))
	assert.NotEqual(t, "null", string(raw["light"]))
}
