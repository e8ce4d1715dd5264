package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/uiblocks-harvester/internal/publisher/memory"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage/local"
)

func runDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "components"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "components", "react-v4.ndjson"), []byte("{}\n"), 0o600))
	for _, name := range []string{IndexFile, ListingFile, ManifestFile} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600))
	}
	return dir
}

func TestPublishUploadsThenAnnounces(t *testing.T) {
	t.Parallel()

	dir := runDir(t)
	mirror, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	pub := memory.New()

	rel, err := Publish(context.Background(), dir, Manifest{RunID: "run-7"}, mirror, pub, nil)
	require.NoError(t, err)
	require.Len(t, rel.Objects, 4)
	assert.Contains(t, rel.Objects[0], filepath.Join("run-7", "components", "react-v4.ndjson"))
	assert.Contains(t, rel.Objects[3], filepath.Join("run-7", ManifestFile), "manifest goes last")
	assert.FileExists(t, filepath.Join(mirror.BaseDir(), "run-7", ListingFile))
	assert.Equal(t, "memory-1", rel.MessageID)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ReadyKind, msgs[0].Kind)
	var notice Notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &notice))
	assert.Equal(t, "run-7", notice.Manifest.RunID)
	assert.Equal(t, rel.Objects, notice.Objects)
}

func TestPublishStopsOnUploadFailure(t *testing.T) {
	t.Parallel()

	dir := runDir(t)
	store := &storage.MockBlobStore{}
	store.On("PutObject", mock.Anything, "r/components/react-v4.ndjson", "application/x-ndjson", "{}\n").
		Return("", errors.New("quota"))
	pub := memory.New()

	_, err := Publish(context.Background(), dir, Manifest{RunID: "r"}, store, pub, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Empty(t, pub.Messages(), "nothing is announced after a failed upload")
	store.AssertExpectations(t)
}

func TestPublishAnnounceOnly(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("broker down"))
	_, err := Publish(context.Background(), runDir(t), Manifest{RunID: "r"}, nil, pub, nil)
	require.ErrorContains(t, err, "broker down")

	rel, err := Publish(context.Background(), runDir(t), Manifest{RunID: "r"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rel.Objects)
}
