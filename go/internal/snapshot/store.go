// Package snapshot provides durable key/value storage for client-side state
// that has to survive a process restart.
package snapshot

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when the key has no value.
var ErrNotFound = errors.New("snapshot: key not found")

// Store persists opaque values under string keys.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
