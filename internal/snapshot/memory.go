package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps snapshot rows in a map.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryRepository) UpdateSize(_ context.Context, id string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.SizeBytes = size
	m.records[id] = rec
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok || rec.Deleted {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryRepository) latestWhere(match func(Record) bool) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Record
	for _, rec := range m.records {
		if rec.Deleted || !match(rec) {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			r := rec
			latest = &r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *MemoryRepository) GetByAction(_ context.Context, actionID string) (*Record, error) {
	return m.latestWhere(func(r Record) bool { return r.ActionID == actionID })
}

func (m *MemoryRepository) GetByMessage(_ context.Context, messageID string) (*Record, error) {
	return m.latestWhere(func(r Record) bool { return r.MessageID == messageID })
}

func (m *MemoryRepository) sorted(match func(Record) bool, newestFirst bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if match(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryRepository) ListByChat(_ context.Context, chatID string) ([]Record, error) {
	return m.sorted(func(r Record) bool { return !r.Deleted && r.ChatID == chatID }, true), nil
}

func (m *MemoryRepository) ListOlderThan(_ context.Context, cutoff time.Time) ([]Record, error) {
	return m.sorted(func(r Record) bool { return r.CreatedAt.Before(cutoff) }, false), nil
}

func (m *MemoryRepository) ListOldestFirst(_ context.Context) ([]Record, error) {
	return m.sorted(func(Record) bool { return true }, false), nil
}

func (m *MemoryRepository) TotalSize(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, rec := range m.records {
		total += rec.SizeBytes
	}
	return total, nil
}

func (m *MemoryRepository) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.Deleted {
		return ErrNotFound
	}
	rec.Deleted = true
	rec.DeletedAt = &at
	m.records[id] = rec
	return nil
}

func (m *MemoryRepository) SoftDeleteByChat(_ context.Context, chatID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, rec := range m.records {
		if rec.ChatID != chatID || rec.Deleted {
			continue
		}
		rec.Deleted = true
		rec.DeletedAt = &at
		m.records[id] = rec
		count++
	}
	return count, nil
}

func (m *MemoryRepository) HardDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
