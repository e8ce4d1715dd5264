// Package storage defines where published dataset artifacts are written.
// Implementations live in the local and gcs subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore uploads one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpStore accepts and discards every object. It backs dry runs.
type NoOpStore struct{}

// PutObject drains r and reports a placeholder URI.
func (NoOpStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return "noop://" + path, nil
}
