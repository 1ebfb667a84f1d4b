package kv

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by [Updater.Update] when the optimistic retry budget
	// is exhausted because other writers kept modifying the key.
	ErrConflict = errors.New("kv update conflict")
	// ErrClosed is returned by adapters after Close.
	ErrClosed = errors.New("kv store closed")
)

// Store is an opaque string sink. Read reports ok=false for a missing key; a
// missing key is never an error.
type Store interface {
	Read(ctx context.Context, key string) (value string, ok bool, err error)
	Write(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// UpdateFunc receives the current value (ok=false when absent) and returns the
// value to persist. Returning an error aborts the update without writing.
type UpdateFunc func(current string, ok bool) (string, error)

// Updater runs a read-modify-write cycle on one key atomically with respect to
// other Update calls on the same key. fn may be invoked more than once when the
// adapter retries after a conflict, so it must be free of side effects.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// AtomicStore is a Store whose read-modify-write cycles are atomic.
type AtomicStore interface {
	Store
	Updater
}
