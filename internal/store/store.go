// Package store provides the durable key-value storage backing session
// records. A record must survive process restarts, so the default backend is
// Redis; the in-memory backend exists for tests and single-node development.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a minimal durable key-value interface.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}
