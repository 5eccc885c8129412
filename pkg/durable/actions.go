package durable

import (
	"time"

	"github.com/fnworks/fnworker/pkg/rpc"
)

// ActionKind identifies one kind of pending work for the host.
type ActionKind string

const (
	// ActionScheduleTask asks the host to run an activity function.
	ActionScheduleTask ActionKind = "scheduleTask"
	// ActionCreateTimer asks the host to arm a durable timer.
	ActionCreateTimer ActionKind = "createTimer"
	// ActionCreateSubOrchestration asks the host to start a child instance.
	ActionCreateSubOrchestration ActionKind = "createSubOrchestration"
	// ActionWaitExternal tells the host the orchestrator is parked on a named
	// event that history has not yet delivered.
	ActionWaitExternal ActionKind = "waitForExternalEvent"
)

// PendingAction is one unit of work the orchestrator scheduled this pass that
// history does not yet cover. The host executes it and appends the matching
// scheduling and completion events before the next replay.
type PendingAction struct {
	Kind   ActionKind      `json:"kind"`
	TaskID int64           `json:"taskId"`
	Name   string          `json:"name,omitempty"`
	Input  *rpc.TypedValue `json:"input,omitempty"`
	FireAt *time.Time      `json:"fireAt,omitempty"`
}

// Outcome is the result of one replay pass.
type Outcome struct {
	// Completed is true when the orchestrator ran to the end of its body,
	// either producing Output or failing terminally with Failure. False means
	// the orchestrator is blocked and Actions carries its pending work.
	Completed bool               `json:"completed"`
	Output    *rpc.TypedValue    `json:"output,omitempty"`
	Failure   *rpc.ExceptionInfo `json:"failure,omitempty"`
	Actions   []PendingAction    `json:"actions,omitempty"`

	// Cursor is the number of history events the pass consumed.
	Cursor int `json:"cursor"`
}
