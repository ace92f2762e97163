// Package storage abstracts blob storage for message media. Keys are
// relative slash-separated paths handed back to callers; the retention
// sweep deletes by key.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound   = errors.New("storage: file not found")
	ErrInvalidKey = errors.New("storage: invalid key")
)

// SaveParams describes one blob to persist.
type SaveParams struct {
	Data         []byte
	OriginalName string
	// Subdirectory groups related blobs, for example messages/<conversation id>.
	Subdirectory string
}

// SavedFile is the durable reference to a stored blob.
type SavedFile struct {
	Key  string
	Size int32
}

// Provider is implemented by blob backends.
type Provider interface {
	Save(ctx context.Context, p SaveParams) (SavedFile, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
