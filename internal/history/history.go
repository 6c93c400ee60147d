package history

import (
	"context"
	"time"
)

// EventType defines the kind of invocation event.
type EventType string

const (
	EventLaunch  EventType = "launch"
	EventExit    EventType = "exit"
	EventKill    EventType = "kill"
	EventRestart EventType = "restart"
	EventGiveUp  EventType = "give_up"
)

// Event records one step in the life of a child invocation.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	Invocation int       `json:"invocation"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	// Detail is free text: the restart mode, the exit classification, and so on.
	Detail string `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Table is the default table name used by the SQL sinks.
const Table = "invocation_history"
