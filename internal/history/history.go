package history

import (
	"context"
	"time"
)

// EventType defines the kind of backend lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventExit    EventType = "exit"    // backend exited without being asked to
	EventFail    EventType = "fail"    // spawn or readiness failure
	EventRestart EventType = "restart" // user-triggered restart
)

// Record is the backend snapshot attached to an event.
type Record struct {
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
	Address   string `json:"address,omitempty"`
	Error     string `json:"error,omitempty"`
	ExitCode  int    `json:"exit_code"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}
