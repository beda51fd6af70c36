// Package registry is the durable key/value store backing job status
// records and process-wide counters.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("registry: key not found")

// Registry is a key/value store with atomic counter increments. Writes are
// atomic per key; there are no multi-key transactions.
type Registry interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	IncrementInt(ctx context.Context, key string, delta int) (int, error)
	IncrementLong(ctx context.Context, key string, delta int64) (int64, error)
	Opt(ctx context.Context, key, def string) (string, error)
}

// OptLong reads a counter, returning def if the key is absent.
func OptLong(ctx context.Context, r Registry, key string, def int64) (int64, error) {
	v, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("registry: key %q is not an integer: %w", key, err)
	}
	return n, nil
}

// PutLong stores an integer value.
func PutLong(ctx context.Context, r Registry, key string, value int64) error {
	return r.Put(ctx, key, strconv.FormatInt(value, 10))
}
