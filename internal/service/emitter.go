package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from their front end
// ─────────────────────────────────────────────────────────────

// EventEmitter is an interface for emitting job events. The CLI logs them;
// tests record them with MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes every event to the standard logger as one JSON line.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("event %s: %v", event, data)
		return
	}
	log.Printf("event %s: %s", event, b)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
// Safe for concurrent use; scheduled runs emit from their own goroutines.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Snapshot returns a copy of the recorded events.
func (m *MockEmitter) Snapshot() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}
