package manager

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of manager event.
type EventType string

const (
	// EventRunStarted indicates a run has begun.
	EventRunStarted EventType = "run_started"
	// EventFeaturesGenerated indicates the feature list was produced and saved.
	EventFeaturesGenerated EventType = "features_generated"
	// EventProjectLoaded carries the total number of features, finished ones included.
	EventProjectLoaded EventType = "project_loaded"
	// EventFeatureStarted indicates work on a feature has begun.
	EventFeatureStarted EventType = "feature_started"
	// EventTasksCreated reports how many tasks were opened for a feature.
	EventTasksCreated EventType = "tasks_created"
	// EventRoundStarted indicates a planning round has begun.
	EventRoundStarted EventType = "round_started"
	// EventPlanReady carries the number of steps in a validated plan.
	EventPlanReady EventType = "plan_ready"
	// EventPlanFailed indicates no usable plan could be obtained for a round.
	EventPlanFailed EventType = "plan_failed"
	// EventStepStarted indicates a plan step is being dispatched.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted indicates a handler finished without error.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed indicates a handler failed; Message holds the diagnosis.
	EventStepFailed EventType = "step_failed"
	// EventCheckpoint indicates the project state was saved.
	EventCheckpoint EventType = "checkpoint"
	// EventFeatureCompleted indicates every task of the feature is closed.
	EventFeatureCompleted EventType = "feature_completed"
	// EventFeatureUnresolved indicates the feature needs manual inspection.
	EventFeatureUnresolved EventType = "feature_unresolved"
	// EventRunStopped indicates the run ended early on a signal or cancellation.
	EventRunStopped EventType = "run_stopped"
	// EventRunDone indicates the run finished.
	EventRunDone EventType = "run_done"
	// EventRunFailed indicates the run ended with an error.
	EventRunFailed EventType = "run_failed"
)

// Event is emitted by the manager for monitors such as the TUI.
type Event struct {
	Type       EventType
	RunID      string
	Feature    string
	Round      int
	Capability string
	TaskID     int
	Count      int
	Message    string
	Error      error
	Timestamp  time.Time
}

// EventEmitter delivers events to a single subscriber without blocking the
// manager for long. Events that cannot be delivered are dropped and counted.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	logger       *slog.Logger
	closeOnce    sync.Once
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *slog.Logger) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Emit sends an event, waiting up to 100ms for buffer space before dropping it.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropped event", "total_dropped", count, "type", event.Type)
		}
	}
}

// DroppedCount returns the number of dropped events.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the subscriber channel. It is closed when the run ends.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Further calls are no-ops.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() { close(e.events) })
}
