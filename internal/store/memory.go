package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Repository. Data does not survive restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]Record
	now     func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[int64]Record), now: time.Now}
}

func (m *MemoryStore) Upsert(_ context.Context, userID int64, data []byte, lastActivityAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = Record{
		UserID:         userID,
		Data:           append([]byte(nil), data...),
		LastActivityAt: lastActivityAt,
		UpdatedAt:      m.now(),
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return &rec, nil
}

func (m *MemoryStore) ScanAll(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Data = append([]byte(nil), rec.Data...)
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	threshold := m.now().Add(-age)
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, rec := range m.records {
		if rec.LastActivityAt.Before(threshold) {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
