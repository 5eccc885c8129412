package durable

import (
	"errors"
	"fmt"
	"time"

	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/rpc"
)

// errBlocked is the unwinding sentinel thrown by Task.Await when the awaited
// result is not in history. The engine recovers it and reports the pass as
// blocked; it never escapes this package.
var errBlocked = errors.New("durable: orchestrator blocked on pending work")

// TaskFailure is the error an await returns when the awaited work failed.
type TaskFailure struct {
	Info rpc.ExceptionInfo
}

// Error implements the error interface.
func (f *TaskFailure) Error() string {
	return f.Info.Message
}

// replayState tracks one pass over a recorded history. Events are consumed at
// most once; the cursor only grows.
type replayState struct {
	events   History
	consumed []bool
	cursor   int

	schedPos   int
	nextTaskID int64

	actions     []PendingAction
	currentTime time.Time
}

func newReplayState(history History) *replayState {
	st := &replayState{
		events:   history,
		consumed: make([]bool, len(history)),
	}
	// The deterministic clock starts at the first episode marker.
	for i := range history {
		if history[i].Kind == EventOrchestratorStarted {
			st.currentTime = history[i].Timestamp
			break
		}
	}
	return st
}

// consume marks event i used. Episode markers before i are consumed along the
// way so the deterministic clock advances with the events it governs.
func (st *replayState) consume(i int) {
	for j := 0; j < i; j++ {
		if !st.consumed[j] && st.events[j].Kind == EventOrchestratorStarted {
			st.consumed[j] = true
			st.cursor++
			st.currentTime = st.events[j].Timestamp
		}
	}
	if !st.consumed[i] {
		st.consumed[i] = true
		st.cursor++
	}
}

// nextScheduling returns the index of the next unconsumed scheduling event,
// or -1 when history has no more.
func (st *replayState) nextScheduling() int {
	for ; st.schedPos < len(st.events); st.schedPos++ {
		if !st.consumed[st.schedPos] && st.events[st.schedPos].isScheduling() {
			return st.schedPos
		}
	}
	return -1
}

// findCompletion returns the index of the unconsumed completion event for a
// task id, or -1.
func (st *replayState) findCompletion(taskID int64) int {
	for i := range st.events {
		if !st.consumed[i] && st.events[i].isCompletion() && st.events[i].TaskID == taskID {
			return i
		}
	}
	return -1
}

// findExternal returns the index of the next unconsumed EventRaised with the
// given name, or -1.
func (st *replayState) findExternal(name string) int {
	for i := range st.events {
		if !st.consumed[i] && st.events[i].Kind == EventEventRaised && st.events[i].Name == name {
			return i
		}
	}
	return -1
}

// replaying reports whether recorded events remain unconsumed.
func (st *replayState) replaying() bool {
	return st.cursor < len(st.events)
}

// Task is the handle to one scheduled unit of durable work.
type Task struct {
	st       *replayState
	id       int64
	resolved bool
	result   rpc.TypedValue
	failure  *rpc.ExceptionInfo
}

// ID returns the task's sequence id.
func (t *Task) ID() int64 {
	return t.id
}

// Done reports whether the task has a recorded outcome.
func (t *Task) Done() bool {
	return t.resolved
}

// Await returns the task's recorded result. When the result is not yet in
// history the pass ends here: Await unwinds the orchestrator body and the
// engine reports the accumulated pending actions to the host.
func (t *Task) Await() (rpc.TypedValue, error) {
	if !t.resolved {
		panic(errBlocked)
	}
	if t.failure != nil {
		return rpc.AbsentValue(), &TaskFailure{Info: *t.failure}
	}
	return t.result, nil
}

// Context is the orchestrator's only window onto the outside world. All reads
// go through recorded history, which is what makes replay deterministic.
type Context struct {
	st    *replayState
	input rpc.TypedValue
}

// Input returns the orchestration's input value.
func (c *Context) Input() rpc.TypedValue {
	return c.input
}

// CurrentTime returns the deterministic orchestration clock: the timestamp of
// the governing episode marker, never the wall clock. Identical across
// replays of the same history.
func (c *Context) CurrentTime() time.Time {
	return c.st.currentTime
}

// IsReplaying reports whether the pass is still consuming recorded events.
// Useful to suppress side effects (logs, metrics) that already happened.
func (c *Context) IsReplaying() bool {
	return c.st.replaying()
}

// CallActivity schedules an activity function and returns its task.
func (c *Context) CallActivity(name string, input interface{}) *Task {
	return c.schedule(ActionScheduleTask, EventTaskScheduled, name, input, nil)
}

// CallSubOrchestration schedules a child orchestration and returns its task.
func (c *Context) CallSubOrchestration(name string, input interface{}) *Task {
	return c.schedule(ActionCreateSubOrchestration, EventSubOrchestrationCreated, name, input, nil)
}

// CreateTimer schedules a durable timer that fires at the given time.
func (c *Context) CreateTimer(fireAt time.Time) *Task {
	return c.schedule(ActionCreateTimer, EventTimerCreated, "", nil, &fireAt)
}

// WaitForExternalEvent returns a task resolved by a raised event with the
// given name. An unresolved wait is reported as a pending action so the host
// knows what the instance is parked on.
func (c *Context) WaitForExternalEvent(name string) *Task {
	st := c.st
	t := &Task{st: st, id: st.nextTaskID}
	st.nextTaskID++

	if i := st.findExternal(name); i >= 0 {
		st.consume(i)
		t.resolved = true
		if st.events[i].Input != nil {
			t.result = *st.events[i].Input
		}
		return t
	}
	st.actions = append(st.actions, PendingAction{Kind: ActionWaitExternal, TaskID: t.id, Name: name})
	return t
}

// schedule implements the shared scheduling path: match the call against the
// next recorded scheduling event, or record a pending action when history has
// run out.
func (c *Context) schedule(action ActionKind, expect EventKind, name string, input interface{}, fireAt *time.Time) *Task {
	st := c.st
	t := &Task{st: st, id: st.nextTaskID}
	st.nextTaskID++

	i := st.nextScheduling()
	if i < 0 {
		// New work this pass.
		pa := PendingAction{Kind: action, TaskID: t.id, Name: name, FireAt: fireAt}
		if input != nil {
			v := encodeInput(input)
			pa.Input = &v
		}
		st.actions = append(st.actions, pa)
		return t
	}

	ev := &st.events[i]
	if ev.Kind != expect || (name != "" && ev.Name != name) {
		panic(fnerrors.NewDivergenceError(fmt.Sprintf(
			"orchestrator scheduled %s %q but history recorded %s %q at position %d",
			expect, name, ev.Kind, ev.Name, i)))
	}
	st.consume(i)
	// Adopt the recorded id so completions match what the host wrote.
	t.id = ev.TaskID

	if j := st.findCompletion(ev.TaskID); j >= 0 {
		done := &st.events[j]
		st.consume(j)
		t.resolved = true
		if done.isFailure() {
			f := rpc.ExceptionInfo{Message: "durable task failed"}
			if done.Failure != nil {
				f = *done.Failure
			}
			t.failure = &f
		} else if done.Result != nil {
			t.result = *done.Result
		}
	}
	return t
}

// encodeInput converts an activity input to its wire value. Already-typed
// values pass through; anything else is marshaled as JSON. Marshal failures
// are user errors and surface through the engine's panic recovery.
func encodeInput(input interface{}) rpc.TypedValue {
	if v, ok := input.(rpc.TypedValue); ok {
		return v
	}
	v, err := rpc.MarshalValue(input)
	if err != nil {
		panic(fnerrors.NewHandlerError("failed to encode durable task input", err))
	}
	return v
}
