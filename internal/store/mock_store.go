// ABOUTME: Mock Store implementation for testing
// ABOUTME: Counts every operation and can be told to fail writes

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	records map[string]Record // keyed by record key
	failErr error
	closed  bool

	puts, deletes, reads, replaces int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		records: make(map[string]Record),
	}
}

// FailWrites makes every subsequent write return err. Pass nil to recover.
func (m *MockStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Ops returns the total number of operations performed.
func (m *MockStore) Ops() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts + m.deletes + m.reads + m.replaces
}

// Puts returns how many Put calls were made, failed ones included.
func (m *MockStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Get returns a copy of a single record.
func (m *MockStore) Get(key string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return copyRecord(rec), ok
}

// Put stores a copy of rec.
func (m *MockStore) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts++
	if m.failErr != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: m.failErr}
	}
	if err := validateRecord(rec); err != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: err}
	}
	m.records[rec.Key] = copyRecord(rec)
	return nil
}

// Delete removes a record.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	if m.failErr != nil {
		return &PersistError{Op: "delete", Key: key, Err: m.failErr}
	}
	delete(m.records, key)
	return nil
}

// DeletePrefix removes every record under prefix.
func (m *MockStore) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	if m.failErr != nil {
		return &PersistError{Op: "delete_prefix", Key: prefix, Err: m.failErr}
	}
	for key := range m.records {
		if strings.HasPrefix(key, prefix) {
			delete(m.records, key)
		}
	}
	return nil
}

// Replace swaps all records.
func (m *MockStore) Replace(ctx context.Context, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replaces++
	if m.failErr != nil {
		return &PersistError{Op: "replace", Err: m.failErr}
	}
	next := make(map[string]Record, len(recs))
	for _, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return &PersistError{Op: "replace", Key: rec.Key, Err: err}
		}
		next[rec.Key] = copyRecord(rec)
	}
	m.records = next
	return nil
}

// ReadAll returns copies of every record ordered by key.
func (m *MockStore) ReadAll(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	recs := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, copyRecord(rec))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	return recs, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyRecord(rec Record) Record {
	out := rec
	out.Value = append([]byte(nil), rec.Value...)
	return out
}
