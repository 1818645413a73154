package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, exercised directly in tests and
// by Update/RetrySaveIfVersion for single-process deployments that do
// not need a shared backing KV.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load(_ context.Context, actorID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[actorID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Save(_ context.Context, actorID string, data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.records[actorID].Seq + 1
	m.records[actorID] = Record{Data: data, Seq: seq, UpdatedAt: time.Now()}
	return seq, nil
}

func (m *MemoryStore) SaveIfVersion(_ context.Context, actorID string, data []byte, expected uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.records[actorID].Seq
	if current != expected {
		return 0, &VersionConflictError{ActorID: actorID, Expected: expected, Actual: current}
	}
	seq := current + 1
	m.records[actorID] = Record{Data: data, Seq: seq, UpdatedAt: time.Now()}
	return seq, nil
}

func (m *MemoryStore) Delete(_ context.Context, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, actorID)
	return nil
}

func (m *MemoryStore) SequenceNumber(_ context.Context, actorID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[actorID]
	if !ok {
		return 0, ErrNotFound
	}
	return rec.Seq, nil
}

func (m *MemoryStore) Update(ctx context.Context, actorID string, fn Transform) (uint64, error) {
	return RetrySaveIfVersion(ctx, m, actorID, DefaultRetryPolicy(), fn)
}
