package driven

import (
	"context"
	"errors"
)

// ErrLocalStorage wraps failures of durable local storage (disk full,
// serialization). The in-memory state stays valid when it occurs.
var ErrLocalStorage = errors.New("local storage failure")

// LocalStore defines the driven port for durable key/value snapshots.
type LocalStore interface {
	// Get returns the blob stored under key. ok is false when nothing is stored.
	Get(ctx context.Context, key string) (blob []byte, ok bool, err error)
	// Set stores or replaces the blob under key.
	Set(ctx context.Context, key string, blob []byte) error
}
