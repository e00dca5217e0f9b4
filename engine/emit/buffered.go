package emit

import "sync"

// BufferedEmitter stores events in memory, keyed by context id.
//
// Use cases:
//   - Testing and validation
//   - Post-mortem inspection of a failed context
//
// Warning: events are never evicted automatically. Call Clear for contexts
// that are no longer of interest.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // contextID -> events
}

// HistoryFilter selects events from a context's history.
//
// All fields are optional; set fields are combined with AND logic.
type HistoryFilter struct {
	Msg     string // Filter by message (empty = no filter)
	GroupID string // Filter by group id (empty = no filter)
	Shard   *int   // Filter by shard index (nil = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ContextID] = append(b.events[event.ContextID], event)
}

// GetHistory returns a copy of every event of a context in emission order.
func (b *BufferedEmitter) GetHistory(contextID string) []Event {
	return b.GetHistoryWithFilter(contextID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of a context matching filter, in
// emission order. The result is never nil.
func (b *BufferedEmitter) GetHistoryWithFilter(contextID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[contextID]))
	for _, event := range b.events[contextID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Count returns the number of stored events named msg across all contexts.
func (b *BufferedEmitter) Count(msg string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, events := range b.events {
		for _, event := range events {
			if event.Msg == msg {
				n++
			}
		}
	}
	return n
}

func (f HistoryFilter) matches(event Event) bool {
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.GroupID != "" && event.GroupID != f.GroupID {
		return false
	}
	if f.Shard != nil && event.Shard != *f.Shard {
		return false
	}
	return true
}

// Clear removes the events of contextID, or of every context when it is empty.
func (b *BufferedEmitter) Clear(contextID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if contextID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, contextID)
	}
}
