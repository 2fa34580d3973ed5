package sink

import (
	"context"
	"sync"
)

// Memory is a map-backed sink for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Upsert implements Sink.
func (m *Memory) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records[rec.CID] = rec
	m.mu.Unlock()
	return nil
}

// Close implements Sink.
func (m *Memory) Close(context.Context) error { return nil }

// Get returns the record for cid, if present.
func (m *Memory) Get(cid string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[cid]
	return rec, ok
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
