package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, grouped by runID.
//
// Use cases:
//   - Tests asserting on emitted events
//   - Post-run inspection of a single generation
//
// Warning: events are kept until Clear is called. Long-running processes
// should clear each run once it has been inspected.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run a workflow with generation ID "gen-001" ...
//	warnings := emitter.GetHistoryWithFilter("gen-001", emit.HistoryFilter{Level: emit.LevelWarn})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering execution history.
//
// All fields are optional and combined with AND logic.
type HistoryFilter struct {
	NodeID  string // Filter by node ID (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	Level   string // Filter by Event.Level() (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of all events for runID in emission order.
// Returns an empty slice if none exist.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the events for runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[runID]))
	for _, event := range b.events[runID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// RunIDs returns every runID with at least one stored event.
func (b *BufferedEmitter) RunIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	return ids
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.Level != "" && event.Level() != f.Level {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// Clear removes stored events for runID, or all events when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
