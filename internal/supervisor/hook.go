package supervisor

import (
	"context"
	"time"
)

// EventType tags a pipeline progress event.
type EventType string

const (
	EventCycleStart    EventType = "cycle-start"
	EventAttemptFailed EventType = "attempt-failed"
	EventDiagnosis     EventType = "diagnosis"
	EventRemedy        EventType = "remedy"
	EventOutcome       EventType = "outcome"
)

// Event is one progress notification emitted while a run executes.
type Event struct {
	Type    EventType `json:"type"`
	Cycle   int       `json:"cycle,omitempty"`
	Target  string    `json:"target,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Hook receives progress events. Implementations must not block for long;
// the loop calls them inline.
type Hook interface {
	Emit(ctx context.Context, ev Event)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, ev Event)

func (f HookFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }
