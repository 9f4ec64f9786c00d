package cache

import (
	"context"
	"sync"

	"github.com/seanankenbruck/nl2sql-guard/internal/embedding"
)

type memoryRecord struct {
	entry  Entry
	vector []float32
}

// MemoryStore keeps entries in process memory with a linear nearest-neighbour scan.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (m *MemoryStore) Nearest(ctx context.Context, namespace string, vector []float32) (*Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Neighbor
	for _, rec := range m.records {
		if rec.entry.Namespace != namespace {
			continue
		}
		d := embedding.L2Distance(vector, rec.vector)
		if best == nil || d < best.Distance {
			best = &Neighbor{Entry: rec.entry, Distance: d}
		}
	}
	return best, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, entry Entry, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[entry.ID]; ok {
		entry.HitCount = existing.entry.HitCount
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	m.records[entry.ID] = &memoryRecord{entry: entry, vector: v}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) Touch(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.entry.HitCount++
	}
	return nil
}

func (m *MemoryStore) Count(ctx context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.records {
		if rec.entry.Namespace == namespace {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Purge(ctx context.Context, namespace string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, rec := range m.records {
		if rec.entry.Namespace == namespace {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
