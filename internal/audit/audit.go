// Package audit defines the sink consumed by the vault engine for its
// event stream. The engine emits one event per operation; sinks decide
// where the records go (Postgres in production, memory in tests).
package audit

import (
	"sync"

	"github.com/vectis-finance/yvm/internal/types"
)

// Sink persists audit events for external reconstruction of ledger state.
type Sink interface {
	Record(event types.Event) error
}

// NoopSink discards events. Used when no database is configured.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) Record(_ types.Event) error { return nil }

// MemorySink collects events in memory for tests and sim runs.
type MemorySink struct {
	mu     sync.Mutex
	events []types.Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Record(event types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *MemorySink) Events() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Last returns the most recent event, or false if none were recorded.
func (m *MemorySink) Last() (types.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return types.Event{}, false
	}
	return m.events[len(m.events)-1], true
}
