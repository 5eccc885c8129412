package durable

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/rpc"
	"github.com/fnworks/fnworker/pkg/telemetry"
)

// OrchestratorFunc is the body of an orchestrator. It must be deterministic:
// same input and history, same behavior, every pass.
type OrchestratorFunc func(ctx *Context) (interface{}, error)

// Engine runs orchestrator bodies under replay.
type Engine struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewEngine creates a replay engine.
func NewEngine(logger *telemetry.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		logger:  logger.NewComponentLogger("durable"),
		metrics: metrics,
	}
}

// Execute runs one replay pass of fn against the recorded history. The pass
// either completes (with output or a terminal failure) or blocks with pending
// actions; Execute itself never returns an error because every failure mode
// is part of the outcome the host needs to see.
func (e *Engine) Execute(fn OrchestratorFunc, input rpc.TypedValue, history History) (out Outcome) {
	st := newReplayState(history)
	octx := &Context{st: st, input: input}

	defer func() {
		r := recover()
		switch {
		case r == nil:
		case isBlocked(r):
			out = Outcome{Completed: false, Actions: st.actions, Cursor: st.cursor}
		case isDivergence(r):
			err := r.(error)
			e.logger.WithError(err).Error("orchestrator diverged from recorded history")
			out = Outcome{
				Completed: true,
				Failure: &rpc.ExceptionInfo{
					Message: err.Error(),
					Source:  string(fnerrors.ClassDivergence),
				},
				Cursor: st.cursor,
			}
		default:
			// User code panicked. Terminal failure with the stack preserved.
			out = Outcome{
				Completed: true,
				Failure: &rpc.ExceptionInfo{
					Message:    fmt.Sprintf("orchestrator panic: %v", r),
					StackTrace: string(debug.Stack()),
					Source:     string(fnerrors.ClassHandler),
				},
				Cursor: st.cursor,
			}
		}
		e.metrics.ReplayPass(len(out.Actions))
	}()

	output, err := fn(octx)
	if err != nil {
		return Outcome{
			Completed: true,
			Failure:   &rpc.ExceptionInfo{Message: err.Error()},
			Cursor:    st.cursor,
		}
	}

	result := Outcome{Completed: true, Cursor: st.cursor}
	if output != nil {
		v := encodeInput(output)
		result.Output = &v
	}
	return result
}

func isBlocked(r interface{}) bool {
	err, ok := r.(error)
	return ok && errors.Is(err, errBlocked)
}

func isDivergence(r interface{}) bool {
	err, ok := r.(error)
	return ok && fnerrors.IsDivergence(err)
}
