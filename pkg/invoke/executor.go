package invoke

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fnworks/fnworker/pkg/bindings"
	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/functions"
	"github.com/fnworks/fnworker/pkg/rpc"
	"github.com/fnworks/fnworker/pkg/telemetry"
)

// Sink is where the executor emits envelopes: invocation responses and
// relayed log records. The session implements it with a serialized writer.
type Sink interface {
	Send(env rpc.Envelope) error
}

// Executor runs invocations concurrently against the function registry.
type Executor struct {
	registry *functions.Registry
	sink     Sink
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	draining bool
	wg       sync.WaitGroup
}

// NewExecutor creates an executor bound to a registry and an envelope sink.
func NewExecutor(registry *functions.Registry, sink Sink, logger *telemetry.Logger, metrics *telemetry.Metrics) *Executor {
	return &Executor{
		registry: registry,
		sink:     sink,
		logger:   logger.NewComponentLogger("executor"),
		metrics:  metrics,
		active:   make(map[string]context.CancelFunc),
	}
}

// Start launches one invocation. Validation and lookup failures do not
// return an error; they produce the invocation's failure response, because
// a bad invocation is never a session problem.
func (e *Executor) Start(ctx context.Context, requestID string, req *rpc.InvocationRequest) {
	if err := req.Validate(); err != nil {
		e.respondFailure(requestID, req.InvocationID, rpc.StatusFailure,
			fnerrors.NewDecodeError("invalid invocation request", err).
				WithCode(fnerrors.CodeMalformedPayload).
				WithInvocation(req.InvocationID))
		return
	}

	desc, handler, err := e.registry.Lookup(req.FunctionID)
	if err != nil {
		e.respondFailure(requestID, req.InvocationID, rpc.StatusFailure, err)
		return
	}

	inv, err := e.buildInvocation(desc, req)
	if err != nil {
		e.respondFailure(requestID, req.InvocationID, rpc.StatusFailure, err)
		return
	}

	invCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		cancel()
		e.respondFailure(requestID, req.InvocationID, rpc.StatusFailure,
			fnerrors.NewHandlerError("worker is draining, invocation rejected", nil).
				WithInvocation(req.InvocationID))
		return
	}
	e.active[req.InvocationID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	e.metrics.InvocationStarted(desc.Name)

	go e.run(invCtx, cancel, requestID, desc, handler, inv)
}

// Cancel requests cooperative cancellation of a running invocation. Unknown
// or already-finished ids are ignored; cancellation is idempotent.
func (e *Executor) Cancel(invocationID, reason string) {
	e.mu.Lock()
	cancel, ok := e.active[invocationID]
	e.mu.Unlock()

	if !ok {
		e.logger.WithInvocationID(invocationID).Debug("cancel for unknown invocation ignored")
		return
	}
	e.logger.WithInvocationID(invocationID).
		WithField("reason", reason).
		Info("cancelling invocation")
	cancel()
}

// Drain stops accepting new invocations and waits for running ones to finish,
// up to the context deadline. Running invocations keep their own contexts;
// drain does not cancel them.
func (e *Executor) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain interrupted with %d invocations still running: %w", e.ActiveCount(), ctx.Err())
	}
}

// ActiveCount returns the number of running invocations.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// buildInvocation decodes the wire request into the handler's view, checking
// each supplied input against its declared binding slot.
func (e *Executor) buildInvocation(desc *functions.Descriptor, req *rpc.InvocationRequest) (*functions.Invocation, error) {
	declared := make(map[string]rpc.BindingInfo, len(desc.Bindings))
	for _, b := range desc.Bindings {
		declared[b.Name] = b
	}

	inputs := make(map[string]rpc.TypedValue, len(req.InputData))
	for _, pb := range req.InputData {
		b, ok := declared[pb.Name]
		if !ok {
			return nil, fnerrors.NewDecodeError(
				fmt.Sprintf("input %q does not match any declared binding", pb.Name), nil).
				WithCode(fnerrors.CodeTypeMismatch).
				WithFunction(desc.ID).
				WithInvocation(req.InvocationID)
		}
		if b.Direction == rpc.DirectionOut {
			return nil, fnerrors.NewDecodeError(
				fmt.Sprintf("input supplied for output-only binding %q", pb.Name), nil).
				WithCode(fnerrors.CodeTypeMismatch).
				WithInvocation(req.InvocationID)
		}
		if err := bindings.Conforms(pb.Data, b.DataType); err != nil {
			var werr *fnerrors.WorkerError
			if we, ok := err.(*fnerrors.WorkerError); ok {
				werr = we
			} else {
				werr = fnerrors.NewDecodeError("input does not conform to binding", err)
			}
			return nil, werr.WithFunction(desc.ID).WithInvocation(req.InvocationID)
		}
		inputs[pb.Name] = pb.Data
	}

	inv := &functions.Invocation{
		ID:              req.InvocationID,
		Function:        desc,
		Inputs:          inputs,
		TriggerMetadata: req.TriggerMetadata,
		Trace:           req.TraceContext,
	}
	inv.Log = e.logRelay(inv)
	return inv, nil
}

// logRelay builds the invocation's log function. Every record goes to the
// host immediately and to the local logger; nothing is buffered until
// completion.
func (e *Executor) logRelay(inv *functions.Invocation) functions.LogFunc {
	local := e.logger.WithInvocationID(inv.ID).WithFunction(inv.Function.ID, inv.Function.Name)
	return func(level rpc.LogLevel, message string) {
		record := rpc.LogRecord{
			InvocationID: inv.ID,
			Category:     inv.Function.Name,
			Level:        level,
			Message:      message,
			Timestamp:    time.Now().UTC(),
		}
		env, err := rpc.NewEnvelope("", rpc.MessageTypeLog, record)
		if err != nil {
			local.WithError(err).Warn("failed to build log envelope")
			return
		}
		if err := e.sink.Send(env); err != nil {
			local.WithError(err).Warn("failed to relay log record")
		}
		e.metrics.MessageSent(string(rpc.MessageTypeLog))
		switch level {
		case rpc.LogLevelTrace:
			local.Trace(message)
		case rpc.LogLevelDebug:
			local.Debug(message)
		case rpc.LogLevelWarning:
			local.Warn(message)
		case rpc.LogLevelError, rpc.LogLevelCritical:
			local.Error(message)
		case rpc.LogLevelNone:
		default:
			local.Info(message)
		}
	}
}

// run executes one invocation to its single response.
func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, requestID string, desc *functions.Descriptor, handler functions.Handler, inv *functions.Invocation) {
	start := time.Now()
	log := e.logger.WithInvocationID(inv.ID).WithFunction(desc.ID, desc.Name)

	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.active, inv.ID)
		e.mu.Unlock()
		e.wg.Done()
	}()

	ctx = telemetry.ContextWithRemoteTrace(ctx, inv.Trace.TraceParent, inv.Trace.TraceState)
	ctx, span := telemetry.StartInvocationSpan(ctx, inv.ID, desc.Name)
	defer span.End()

	log.Debug("invocation started")

	result, err := e.execute(ctx, handler, inv)

	status := rpc.StatusSuccess
	switch {
	case err == nil && ctx.Err() != nil:
		// Handler returned normally after its context was cancelled. The
		// host already considers this invocation dead.
		status = rpc.StatusCancelled
		err = fnerrors.NewCancelledError("invocation cancelled").WithInvocation(inv.ID)
	case fnerrors.IsCancelled(err) || (err != nil && ctx.Err() != nil):
		status = rpc.StatusCancelled
		if !fnerrors.IsCancelled(err) {
			err = fnerrors.NewCancelledError("invocation cancelled").WithInvocation(inv.ID)
		}
	case err != nil:
		status = rpc.StatusFailure
	}

	elapsed := time.Since(start)
	e.metrics.InvocationCompleted(desc.Name, string(status), elapsed)

	if status != rpc.StatusSuccess {
		log.WithError(err).WithField("status", string(status)).Info("invocation finished")
		e.respondFailure(requestID, inv.ID, status, err)
		return
	}

	log.WithField("duration_ms", elapsed.Milliseconds()).Debug("invocation finished")
	e.respondSuccess(requestID, inv.ID, desc, result)
}

// execute runs the handler with panic isolation.
func (e *Executor) execute(ctx context.Context, handler functions.Handler, inv *functions.Invocation) (result *functions.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fnerrors.NewHandlerError(fmt.Sprintf("handler panic: %v", r), nil).
				WithCode(fnerrors.CodeHandlerPanic).
				WithInvocation(inv.ID)
			e.logger.WithInvocationID(inv.ID).
				WithField("stack", string(debug.Stack())).
				Error("handler panicked")
		}
	}()
	result, err = handler.Execute(ctx, inv)
	if err != nil {
		if fnerrors.ClassOf(err) == "" {
			err = fnerrors.NewHandlerError("handler returned error", err).WithInvocation(inv.ID)
		}
		return nil, err
	}
	return result, nil
}

// respondSuccess emits the single success response, with outputs in the
// declared binding order.
func (e *Executor) respondSuccess(requestID, invocationID string, desc *functions.Descriptor, result *functions.Result) {
	resp := rpc.InvocationResponse{
		InvocationID: invocationID,
		Result:       rpc.StatusResult{Status: rpc.StatusSuccess},
	}
	if result != nil {
		resp.ReturnValue = result.Return
		for _, b := range desc.OutputBindings() {
			if v, ok := result.Outputs[b.Name]; ok {
				resp.OutputData = append(resp.OutputData, rpc.ParameterBinding{Name: b.Name, Data: v})
			}
		}
	}
	e.send(requestID, rpc.MessageTypeInvocationResponse, resp, invocationID)
}

// respondFailure emits the single non-success response. Failed and cancelled
// invocations never carry output bindings.
func (e *Executor) respondFailure(requestID, invocationID string, status rpc.Status, cause error) {
	resp := rpc.InvocationResponse{
		InvocationID: invocationID,
		Result: rpc.StatusResult{
			Status: status,
		},
	}
	if cause != nil {
		resp.Result.Exception = &rpc.ExceptionInfo{
			Message: cause.Error(),
			Source:  string(fnerrors.ClassOf(cause)),
		}
	}
	e.send(requestID, rpc.MessageTypeInvocationResponse, resp, invocationID)
}

func (e *Executor) send(requestID string, mt rpc.MessageType, payload interface{}, invocationID string) {
	env, err := rpc.NewEnvelope(requestID, mt, payload)
	if err != nil {
		e.logger.WithInvocationID(invocationID).WithError(err).Error("failed to build response envelope")
		return
	}
	if err := e.sink.Send(env); err != nil {
		e.logger.WithInvocationID(invocationID).WithError(err).Error("failed to send response envelope")
		return
	}
	e.metrics.MessageSent(string(mt))
}
