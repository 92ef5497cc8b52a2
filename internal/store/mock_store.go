package store

import (
	"context"
	"sync"
)

// MockStore provides an in-memory implementation for testing, with
// hooks to inject failures.
type MockStore struct {
	mu      sync.RWMutex
	records map[string][]byte

	// Error injection
	LoadErr   error
	SaveErr   error
	DeleteErr error
	KeysErr   error

	saveCount int
	loadCount int
}

// NewMockStore creates a mock record store.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string][]byte),
	}
}

// Load returns the record stored under key.
func (m *MockStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadCount++
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	data, ok := m.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	// Return a copy to avoid callers mutating stored bytes.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Save stores data under key.
func (m *MockStore) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCount++
	if m.SaveErr != nil {
		return m.SaveErr
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.records[key] = stored
	return nil
}

// Delete removes the record for key.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	delete(m.records, key)
	return nil
}

// Keys returns all stored keys.
func (m *MockStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.KeysErr != nil {
		return nil, m.KeysErr
	}

	var keys []string
	for key := range m.records {
		keys = append(keys, key)
	}
	return keys, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Helper methods for testing

// SetRecord stores data directly (for test setup).
func (m *MockStore) SetRecord(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = data
}

// Record returns the raw stored bytes, or nil.
func (m *MockStore) Record(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[key]
}

// SaveCount reports how many Save calls were made.
func (m *MockStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveCount
}

// LoadCount reports how many Load calls were made.
func (m *MockStore) LoadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadCount
}

// Clear removes all records and resets counters.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string][]byte)
	m.saveCount = 0
	m.loadCount = 0
}
