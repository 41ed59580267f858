package store

import (
	"sort"
	"sync"
	"time"

	"github.com/yourusername/arcsign/internal/types"
)

// MemoryStore implements Store with an in-memory map guarded by a mutex,
// following the teacher's MemoryTxStore (src/chainadapter/storage/memory.go)
// shape. Suitable for tests and ephemeral development; offers no durability
// across process restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]types.Record)}
}

func (m *MemoryStore) PutIfAbsent(req types.SettlementRequest) (PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[req.SourceTxHash]; exists {
		return AlreadyExists, nil
	}

	now := time.Now()
	m.records[req.SourceTxHash] = types.Record{
		Request: req,
		State:   types.NewPendingState(now),
	}
	return Inserted, nil
}

func (m *MemoryStore) Get(sourceTxHash string) (types.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.records[sourceTxHash]
	if !exists {
		return types.Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) UpdateState(sourceTxHash string, expected *types.SettlementState, f UpdateFunc) (UpdateResult, types.SettlementState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[sourceTxHash]
	if !exists {
		return NotFound, types.SettlementState{}, nil
	}

	if expected != nil && !sameVersion(rec.State, *expected) {
		return Conflict, rec.State, nil
	}

	next := f(rec.State)
	next.UpdatedAt = time.Now()
	rec.State = next
	m.records[sourceTxHash] = rec

	return Updated, next, nil
}

func (m *MemoryStore) ListByStatus(status types.Status, limit int) ([]types.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Record, 0)
	for _, rec := range m.records {
		if rec.State.Status == status {
			result = append(result, rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].State.CreatedAt.Before(result[j].State.CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CountByStatus() (map[types.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[types.Status]int)
	for _, rec := range m.records {
		counts[rec.State.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) ListRecent(limit int) ([]types.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Record, 0, len(m.records))
	for _, rec := range m.records {
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].State.CreatedAt.After(result[j].State.CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Close() error { return nil }

func sameVersion(a, b types.SettlementState) bool {
	return a.Status == b.Status && a.Attempts == b.Attempts && a.UpdatedAt.Equal(b.UpdatedAt)
}
