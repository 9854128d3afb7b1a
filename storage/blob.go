// Package storage provides the blob stores embeddings, corpora and rendered
// reports are read from and written to.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned (possibly wrapped) when a key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// BlobStore is a minimal key-value store for local directories and
// S3-compatible backends. Keys are slash-separated.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
