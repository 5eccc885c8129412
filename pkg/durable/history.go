package durable

import (
	"time"

	"github.com/fnworks/fnworker/pkg/rpc"
)

// EventKind identifies one recorded history event.
type EventKind string

const (
	// EventOrchestratorStarted marks the start of a replay episode and pins
	// the orchestration's deterministic clock.
	EventOrchestratorStarted EventKind = "OrchestratorStarted"
	// EventTaskScheduled records that an activity call was handed to the host.
	EventTaskScheduled EventKind = "TaskScheduled"
	// EventTaskCompleted records an activity result.
	EventTaskCompleted EventKind = "TaskCompleted"
	// EventTaskFailed records an activity failure.
	EventTaskFailed EventKind = "TaskFailed"
	// EventTimerCreated records that a durable timer was handed to the host.
	EventTimerCreated EventKind = "TimerCreated"
	// EventTimerFired records a timer expiry.
	EventTimerFired EventKind = "TimerFired"
	// EventEventRaised records an external event delivered by name.
	EventEventRaised EventKind = "EventRaised"
	// EventSubOrchestrationCreated records a sub-orchestration call.
	EventSubOrchestrationCreated EventKind = "SubOrchestrationCreated"
	// EventSubOrchestrationCompleted records a sub-orchestration result.
	EventSubOrchestrationCompleted EventKind = "SubOrchestrationCompleted"
	// EventSubOrchestrationFailed records a sub-orchestration failure.
	EventSubOrchestrationFailed EventKind = "SubOrchestrationFailed"
)

// HistoryEvent is one recorded fact about an orchestration's past.
type HistoryEvent struct {
	Kind      EventKind          `json:"kind"`
	TaskID    int64              `json:"taskId,omitempty"`
	Name      string             `json:"name,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	FireAt    *time.Time         `json:"fireAt,omitempty"`
	Input     *rpc.TypedValue    `json:"input,omitempty"`
	Result    *rpc.TypedValue    `json:"result,omitempty"`
	Failure   *rpc.ExceptionInfo `json:"failure,omitempty"`
}

// History is the ordered event log for one orchestration instance.
type History []HistoryEvent

// isScheduling reports whether the event records the orchestrator handing
// work to the host. Scheduling events are matched positionally during replay.
func (e *HistoryEvent) isScheduling() bool {
	switch e.Kind {
	case EventTaskScheduled, EventTimerCreated, EventSubOrchestrationCreated:
		return true
	default:
		return false
	}
}

// isCompletion reports whether the event resolves a previously scheduled
// task. Completion events are matched by task id.
func (e *HistoryEvent) isCompletion() bool {
	switch e.Kind {
	case EventTaskCompleted, EventTaskFailed, EventTimerFired,
		EventSubOrchestrationCompleted, EventSubOrchestrationFailed:
		return true
	default:
		return false
	}
}

// isFailure reports whether a completion event carries a failure.
func (e *HistoryEvent) isFailure() bool {
	return e.Kind == EventTaskFailed || e.Kind == EventSubOrchestrationFailed
}
