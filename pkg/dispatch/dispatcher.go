package dispatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fnworks/fnworker/pkg/bindings"
	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/functions"
	"github.com/fnworks/fnworker/pkg/invoke"
	"github.com/fnworks/fnworker/pkg/rpc"
	"github.com/fnworks/fnworker/pkg/telemetry"
)

// Config carries the worker identity the dispatcher announces at init.
type Config struct {
	WorkerVersion   string
	ProtocolVersion string
	Capabilities    map[string]string
}

// Dispatcher translates host messages into registry and executor operations.
type Dispatcher struct {
	cfg      Config
	registry *functions.Registry
	resolver functions.Resolver
	executor *invoke.Executor
	sink     invoke.Sink
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	started  time.Time
}

// NewDispatcher creates a dispatcher over a registry, resolver and executor.
func NewDispatcher(cfg Config, registry *functions.Registry, resolver functions.Resolver, executor *invoke.Executor, sink invoke.Sink, logger *telemetry.Logger, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		resolver: resolver,
		executor: executor,
		sink:     sink,
		logger:   logger.NewComponentLogger("dispatch"),
		metrics:  metrics,
		started:  time.Now(),
	}
}

// OnWorkerInit answers the host's init message. A protocol version the worker
// does not speak produces a failure response and a fatal error; the session
// sends the response and closes.
func (d *Dispatcher) OnWorkerInit(requestID string, req *rpc.WorkerInitRequest) (rpc.Envelope, error) {
	resp := rpc.WorkerInitResponse{
		WorkerVersion:   d.cfg.WorkerVersion,
		ProtocolVersion: d.cfg.ProtocolVersion,
		Capabilities:    d.cfg.Capabilities,
		Result:          rpc.StatusResult{Status: rpc.StatusSuccess},
	}

	var initErr error
	if req.ProtocolVersion != d.cfg.ProtocolVersion {
		initErr = fnerrors.NewProtocolError(
			fmt.Sprintf("host speaks protocol %q, worker speaks %q", req.ProtocolVersion, d.cfg.ProtocolVersion), nil).
			WithCode(fnerrors.CodeVersionMismatch)
		resp.Result = rpc.StatusResult{
			Status:    rpc.StatusFailure,
			Exception: &rpc.ExceptionInfo{Message: initErr.Error()},
		}
	}

	env, err := rpc.NewEnvelope(requestID, rpc.MessageTypeWorkerInitResponse, resp)
	if err != nil {
		return rpc.Envelope{}, fnerrors.NewProtocolError("failed to build init response", err)
	}
	return env, initErr
}

// Dispatch routes one inbound envelope. A non-nil return is always fatal to
// the session; everything recoverable is answered on the wire instead.
func (d *Dispatcher) Dispatch(ctx context.Context, env rpc.Envelope) error {
	d.metrics.MessageReceived(string(env.Type))

	switch env.Type {
	case rpc.MessageTypeFunctionLoad:
		return d.onFunctionLoad(env)
	case rpc.MessageTypeFunctionsLoadComplete:
		return d.onLoadComplete(env)
	case rpc.MessageTypeInvocationRequest:
		return d.onInvocation(ctx, env)
	case rpc.MessageTypeInvocationCancel:
		return d.onCancel(env)
	case rpc.MessageTypeWorkerStatusRequest:
		return d.onStatusRequest(env)
	case rpc.MessageTypeEnvironmentReload:
		return d.onEnvironmentReload(env)
	case rpc.MessageTypeWorkerHeartbeat:
		// Host-side probes get a heartbeat back; outbound liveness is the
		// session ticker's job.
		return d.respond(env.RequestID, rpc.MessageTypeWorkerHeartbeat, rpc.WorkerHeartbeat{})
	default:
		d.logger.WithField("type", string(env.Type)).Debug("ignoring unhandled message type")
		return nil
	}
}

func (d *Dispatcher) onFunctionLoad(env rpc.Envelope) error {
	var req rpc.FunctionLoadRequest
	if err := rpc.ParseContent(env.Content, &req); err != nil {
		return fnerrors.NewProtocolError("malformed function load request", err)
	}

	// The load phase has a hard end. A host that keeps loading after the
	// completion marker has lost track of the session state.
	if d.registry.Sealed() {
		return fnerrors.NewProtocolError("function load received after load completion", nil).
			WithCode(fnerrors.CodeRegistrySealed).
			WithFunction(req.FunctionID)
	}

	if err := d.loadFunction(&req); err != nil {
		d.logger.WithError(err).WithField("function_id", req.FunctionID).Warn("function load failed")
		return d.respond(env.RequestID, rpc.MessageTypeFunctionLoadResponse, rpc.FunctionLoadResponse{
			FunctionID: req.FunctionID,
			Result: rpc.StatusResult{
				Status:    rpc.StatusFailure,
				Exception: &rpc.ExceptionInfo{Message: err.Error(), Source: string(fnerrors.ClassOf(err))},
			},
		})
	}

	d.metrics.FunctionsLoaded(d.registry.Len())
	d.logger.WithFunction(req.FunctionID, req.Metadata.Name).Info("function loaded")
	return d.respond(env.RequestID, rpc.MessageTypeFunctionLoadResponse, rpc.FunctionLoadResponse{
		FunctionID: req.FunctionID,
		Result:     rpc.StatusResult{Status: rpc.StatusSuccess},
	})
}

// loadFunction validates a descriptor and registers its handler. All failures
// are per-function; the session keeps running.
func (d *Dispatcher) loadFunction(req *rpc.FunctionLoadRequest) error {
	if req.FunctionID == "" {
		return fnerrors.NewLoadError("function load has no function id", nil)
	}
	for _, b := range req.Metadata.Bindings {
		if err := b.Direction.Validate(); err != nil {
			return fnerrors.NewLoadError("invalid binding direction", err).WithFunction(req.FunctionID)
		}
		if !bindings.Supported(b.Kind) {
			return fnerrors.NewLoadError(fmt.Sprintf("binding kind %q is not supported", b.Kind), nil).
				WithCode(fnerrors.CodeUnsupportedBinding).
				WithFunction(req.FunctionID)
		}
	}

	handler, ok := d.resolver.Resolve(req.Metadata)
	if !ok {
		return fnerrors.NewLoadError(
			fmt.Sprintf("no handler registered for function %q", req.Metadata.Name), nil).
			WithCode(fnerrors.CodeFunctionNotFound).
			WithFunction(req.FunctionID)
	}

	return d.registry.Register(&functions.Descriptor{
		ID:       req.FunctionID,
		Name:     req.Metadata.Name,
		Bindings: req.Metadata.Bindings,
	}, handler)
}

func (d *Dispatcher) onLoadComplete(env rpc.Envelope) error {
	d.registry.Seal()
	d.logger.WithField("functions", d.registry.Len()).Info("function loading complete, registry sealed")
	return d.respond(env.RequestID, rpc.MessageTypeFunctionsLoadCompleteResponse, rpc.FunctionsLoadCompleteResponse{
		Result: rpc.StatusResult{Status: rpc.StatusSuccess},
	})
}

func (d *Dispatcher) onInvocation(ctx context.Context, env rpc.Envelope) error {
	var req rpc.InvocationRequest
	if err := rpc.ParseContent(env.Content, &req); err != nil {
		return fnerrors.NewProtocolError("malformed invocation request", err)
	}
	d.executor.Start(ctx, env.RequestID, &req)
	return nil
}

func (d *Dispatcher) onCancel(env rpc.Envelope) error {
	var req rpc.InvocationCancel
	if err := rpc.ParseContent(env.Content, &req); err != nil {
		return fnerrors.NewProtocolError("malformed invocation cancel", err)
	}
	d.executor.Cancel(req.InvocationID, req.Reason)
	return nil
}

func (d *Dispatcher) onStatusRequest(env rpc.Envelope) error {
	return d.respond(env.RequestID, rpc.MessageTypeWorkerStatusResponse, rpc.WorkerStatusResponse{
		ActiveInvocations: d.executor.ActiveCount(),
		LoadedFunctions:   d.registry.Len(),
		UptimeSeconds:     time.Since(d.started).Seconds(),
	})
}

func (d *Dispatcher) onEnvironmentReload(env rpc.Envelope) error {
	var req rpc.FunctionEnvironmentReloadRequest
	if err := rpc.ParseContent(env.Content, &req); err != nil {
		return fnerrors.NewProtocolError("malformed environment reload request", err)
	}

	result := rpc.StatusResult{Status: rpc.StatusSuccess}
	for k, v := range req.EnvironmentVariables {
		if err := os.Setenv(k, v); err != nil {
			result = rpc.StatusResult{
				Status:    rpc.StatusFailure,
				Exception: &rpc.ExceptionInfo{Message: fmt.Sprintf("failed to set %s: %v", k, err)},
			}
			break
		}
	}
	d.logger.WithField("variables", len(req.EnvironmentVariables)).Info("environment reloaded")
	return d.respond(env.RequestID, rpc.MessageTypeEnvironmentReloadResponse, rpc.FunctionEnvironmentReloadResponse{
		Result: result,
	})
}

func (d *Dispatcher) respond(requestID string, mt rpc.MessageType, payload interface{}) error {
	env, err := rpc.NewEnvelope(requestID, mt, payload)
	if err != nil {
		return fnerrors.NewProtocolError("failed to build response envelope", err)
	}
	if err := d.sink.Send(env); err != nil {
		return fnerrors.NewProtocolError("failed to send response envelope", err)
	}
	d.metrics.MessageSent(string(mt))
	return nil
}
