package dataset

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/uiblocks-harvester/internal/publisher"
	"github.com/JakeFAU/uiblocks-harvester/internal/storage"
)

// ReadyKind labels the dataset-ready notification.
const ReadyKind = "dataset.ready"

// Release is the outcome of Publish.
type Release struct {
	Objects   []string `json:"objects"`
	MessageID string   `json:"message_id,omitempty"`
}

// Notice is the payload announced to subscribers.
type Notice struct {
	Manifest Manifest `json:"manifest"`
	Objects  []string `json:"objects"`
}

// Publish uploads the stripped streams, index, listing and manifest of runDir
// under runID/ in store and then announces them through pub. Either target
// may be nil. The manifest is uploaded last.
func Publish(ctx context.Context, runDir string, m Manifest, store storage.BlobStore, pub publisher.Publisher, logger *zap.Logger) (Release, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var rel Release
	if store != nil {
		files, err := filepath.Glob(filepath.Join(runDir, "components", "*.ndjson"))
		if err != nil {
			return rel, fmt.Errorf("list record streams: %w", err)
		}
		sort.Strings(files)
		for _, name := range []string{IndexFile, ListingFile, ManifestFile} {
			files = append(files, filepath.Join(runDir, name))
		}
		for _, file := range files {
			relPath, err := filepath.Rel(runDir, file)
			if err != nil {
				return rel, fmt.Errorf("relativize %s: %w", file, err)
			}
			uri, err := upload(ctx, store, path.Join(m.RunID, filepath.ToSlash(relPath)), file)
			if err != nil {
				return rel, err
			}
			logger.Debug("Uploaded artifact", zap.String("uri", uri))
			rel.Objects = append(rel.Objects, uri)
		}
	}
	if pub != nil {
		id, err := pub.Publish(ctx, ReadyKind, Notice{Manifest: m, Objects: rel.Objects})
		if err != nil {
			return rel, fmt.Errorf("announce dataset: %w", err)
		}
		rel.MessageID = id
	}
	logger.Info("Dataset published", zap.Int("objects", len(rel.Objects)), zap.String("message_id", rel.MessageID))
	return rel, nil
}

func upload(ctx context.Context, store storage.BlobStore, name, file string) (string, error) {
	// #nosec G304 -- artifacts live in the run directory.
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(file), err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	contentType := "application/json"
	if filepath.Ext(file) == ".ndjson" {
		contentType = "application/x-ndjson"
	}
	uri, err := store.PutObject(ctx, name, contentType, f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return uri, nil
}
