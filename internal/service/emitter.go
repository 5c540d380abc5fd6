package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter — decouples services from whoever listens
// ─────────────────────────────────────────────────────────────

// Event names emitted by the services.
const (
	EventGridStateChanged = "grid:state-changed"
	EventGridExported     = "grid:exported"
	EventGridRowClicked   = "grid:row-clicked"
	EventDatasetUpdated   = "dataset:updated"
	EventRowChanged       = "row:changed"
	EventETLJobCompleted  = "etl:job-completed"
)

// EventEmitter delivers service events to a listener: the log for the CLI,
// MCP notifications for the agent server, a recorder in tests.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, any) {}

// LogEmitter writes every event to a zap logger at debug level.
type LogEmitter struct {
	Logger *zap.Logger
}

func (e LogEmitter) Emit(_ context.Context, event string, data any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Debug("event", zap.String("event", event), zap.Any("data", data))
}

// MultiEmitter fans an event out to several emitters in order.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ctx context.Context, event string, data any) {
	for _, e := range m {
		e.Emit(ctx, event, data)
	}
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
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

// Named returns the recorded events called event, oldest first.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func orNop(e EventEmitter) EventEmitter {
	if e == nil {
		return NopEmitter{}
	}
	return e
}
