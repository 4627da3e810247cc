package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps fields in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.values, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string, opts SetOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if opts.TTL > 0 {
		e.expires = m.now().Add(opts.TTL)
	}
	m.values[key] = e
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
