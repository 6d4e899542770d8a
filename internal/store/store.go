// Package store persists small string values such as the cached wallet
// provider id across process restarts.
package store

import (
	"context"
	"sync"
)

// Store is a string key/value store. Get returns "" for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memory{values: map[string]string{}}
}

func (m *memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
