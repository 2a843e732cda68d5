package orchestrator

import "github.com/jonathan/exportd/internal/types"

// EventType tags a UI-facing engine event.
type EventType string

const (
	EventRunCreated     EventType = "run-created"
	EventRunProgress    EventType = "run-progress"
	EventRunLog         EventType = "run-log"
	EventRunCompleted   EventType = "run-completed"
	EventRunFailed      EventType = "run-failed"
	EventRunStopped     EventType = "run-stopped"
	EventNeedsReconnect EventType = "needs-reconnect"
)

// Event is one UI-facing notification about a run.
type Event struct {
	Type EventType  `json:"type"`
	Run  *types.Run `json:"run,omitempty"`
	Line string     `json:"line,omitempty"`
	Step string     `json:"step,omitempty"`
}

// Notifier receives engine events for fan-out to UI clients.
type Notifier interface {
	Publish(Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Publish(Event) {}
