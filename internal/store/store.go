// Package store defines the key-value capability the cart persists into.
// Implementations include in-memory (for testing and development), Redis,
// PostgreSQL, and a Redis read-through cache in front of PostgreSQL.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a single-valued byte store. A Set fully replaces the previous
// value for the key.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the value for key.
	Set(ctx context.Context, key string, value []byte) error
}
