package room

import (
	"encoding/json"
	"sync"
)

// Entry is one replicated value plus the metadata used to order writes.
// UpdatedAt is milliseconds since epoch and exists purely for conflict
// resolution; it carries no business meaning.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updatedAt"`
	Origin    string          `json:"origin"`
}

// Observer receives every write that was actually applied to the map.
type Observer func(key string, e Entry)

// StateMap is a replicated key-value store with last-writer-wins semantics
// and change observation. A newer UpdatedAt always supersedes an older one;
// equal timestamps are broken by the lexicographically greater origin id so
// that concurrent writers converge on the same value without coordination.
type StateMap struct {
	mu        sync.Mutex
	entries   map[string]Entry
	observers map[int]Observer
	nextObsID int
}

func NewStateMap() *StateMap {
	return &StateMap{
		entries:   make(map[string]Entry),
		observers: make(map[int]Observer),
	}
}

// Set applies e under key if it wins against the current entry and reports
// whether it was applied. Observers fire only for applied writes.
func (m *StateMap) Set(key string, e Entry) bool {
	m.mu.Lock()
	current, ok := m.entries[key]
	if ok && !supersedes(e, current) {
		m.mu.Unlock()
		return false
	}
	m.entries[key] = e
	observers := make([]Observer, 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()

	for _, o := range observers {
		o(key, e)
	}
	return true
}

// Get returns the current entry for key.
func (m *StateMap) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

// Snapshot copies the full map, for handing to late joiners.
func (m *StateMap) Snapshot() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Observe registers o and returns an idempotent cancel func.
func (m *StateMap) Observe(o Observer) func() {
	m.mu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = o
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

func supersedes(incoming, current Entry) bool {
	if incoming.UpdatedAt != current.UpdatedAt {
		return incoming.UpdatedAt > current.UpdatedAt
	}
	return incoming.Origin > current.Origin
}
