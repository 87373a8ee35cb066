package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[S].
//
// States are stored as JSON snapshots so later mutation of shared slices in
// the caller's state cannot rewrite recorded history.
//
// MemStore is thread-safe. Data is lost when the process exits.
type MemStore[S any] struct {
	mu    sync.RWMutex
	steps map[string]map[int]memRecord // runID -> step -> record
}

type memRecord struct {
	nodeID    string
	state     []byte
	createdAt time.Time
}

// NewMemStore creates a new in-memory store.
//
// Example:
//
//	st := store.NewMemStore[story.WorkflowState]()
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		steps: make(map[string]map[int]memRecord),
	}
}

// SaveStep persists a workflow execution step.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, step int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.steps[runID]
	if !ok {
		run = make(map[int]memRecord)
		m.steps[runID] = run
	}
	run[step] = memRecord{nodeID: nodeID, state: data, createdAt: time.Now()}
	return nil
}

// LoadLatest retrieves the most recent step for a run.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (state S, step int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run := m.steps[runID]
	if len(run) == 0 {
		return state, 0, ErrNotFound
	}

	latest := -1
	for s := range run {
		if s > latest {
			latest = s
		}
	}

	if err := json.Unmarshal(run[latest].state, &state); err != nil {
		return state, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, latest, nil
}

// ListSteps returns the run's steps ordered by step number.
func (m *MemStore[S]) ListSteps(_ context.Context, runID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run := m.steps[runID]
	if len(run) == 0 {
		return nil, ErrNotFound
	}

	records := make([]StepRecord[S], 0, len(run))
	for s, rec := range run {
		var state S
		if err := json.Unmarshal(rec.state, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %d: %w", s, err)
		}
		records = append(records, StepRecord[S]{Step: s, NodeID: rec.nodeID, State: state, CreatedAt: rec.createdAt})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Step < records[j].Step })
	return records, nil
}

// RunCount returns how many runs have at least one persisted step.
func (m *MemStore[S]) RunCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps)
}
