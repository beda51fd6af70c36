package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Memory is a process-local Registry. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) IncrementInt(ctx context.Context, key string, delta int) (int, error) {
	n, err := m.IncrementLong(ctx, key, int64(delta))
	return int(n), err
}

func (m *Memory) IncrementLong(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if v, ok := m.values[key]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("registry: key %q is not an integer: %w", key, err)
		}
		current = n
	}
	current += delta
	m.values[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (m *Memory) Opt(ctx context.Context, key, def string) (string, error) {
	v, err := m.Get(ctx, key)
	if err == ErrNotFound {
		return def, nil
	}
	return v, err
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
