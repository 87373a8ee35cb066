package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/storyflow-go/story"
)

// MemorySink keeps records in process memory. Safe for concurrent use.
type MemorySink struct {
	mu      sync.RWMutex
	records map[string]map[int]story.TrackingRecord
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]map[int]story.TrackingRecord)}
}

// CreateRecord stores rec, replacing any record with the same key.
func (m *MemorySink) CreateRecord(_ context.Context, rec story.TrackingRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(rec)
	return nil
}

// UpdateRecord merges rec into the stored record, creating it if needed.
func (m *MemorySink) UpdateRecord(_ context.Context, rec story.TrackingRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.records[rec.GenerationID][rec.AttemptNumber]; ok {
		rec = merge(prev, rec)
	}
	m.put(rec)
	return nil
}

// put must be called with m.mu held.
func (m *MemorySink) put(rec story.TrackingRecord) {
	rec = stamp(rec, time.Now())
	byAttempt, ok := m.records[rec.GenerationID]
	if !ok {
		byAttempt = make(map[int]story.TrackingRecord)
		m.records[rec.GenerationID] = byAttempt
	}
	byAttempt[rec.AttemptNumber] = rec
}

// Get returns one attempt record.
func (m *MemorySink) Get(_ context.Context, generationID string, attempt int) (story.TrackingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[generationID][attempt]
	if !ok {
		return story.TrackingRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns every record of a generation ordered by attempt number.
func (m *MemorySink) List(_ context.Context, generationID string) ([]story.TrackingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byAttempt := m.records[generationID]
	if len(byAttempt) == 0 {
		return nil, ErrNotFound
	}
	out := make([]story.TrackingRecord, 0, len(byAttempt))
	for _, rec := range byAttempt {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}
