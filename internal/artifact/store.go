package artifact

import (
	"context"
	"errors"
)

// Store persists raster and vector artifacts under path-like keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes content under key. With overwrite=false an existing key
	// fails with ErrConflict.
	Put(ctx context.Context, key string, content []byte, overwrite bool) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

var (
	ErrNotFound = errors.New("artifact not found")
	ErrConflict = errors.New("artifact already exists")
)
