package dispatch

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/functions"
	"github.com/fnworks/fnworker/pkg/invoke"
	"github.com/fnworks/fnworker/pkg/rpc"
	"github.com/fnworks/fnworker/pkg/telemetry"
)

type memorySink struct {
	mu        sync.Mutex
	envelopes []rpc.Envelope
}

func (s *memorySink) Send(env rpc.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *memorySink) last(t *testing.T) rpc.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.envelopes)
	return s.envelopes[len(s.envelopes)-1]
}

func (s *memorySink) lastOf(t *testing.T, mt rpc.MessageType) rpc.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for i := len(s.envelopes) - 1; i >= 0; i-- {
			if s.envelopes[i].Type == mt {
				env := s.envelopes[i]
				s.mu.Unlock()
				return env
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no envelope of type %s", mt)
	return rpc.Envelope{}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *memorySink, *functions.Registry) {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	require.NoError(t, err)
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	require.NoError(t, err)

	sink := &memorySink{}
	registry := functions.NewRegistry()
	catalog := functions.NewCatalog().
		Add("Echo", functions.HandlerFunc(func(ctx context.Context, inv *functions.Invocation) (*functions.Result, error) {
			ret := inv.Input("req")
			return &functions.Result{Return: &ret}, nil
		}))
	executor := invoke.NewExecutor(registry, sink, logger, metrics)

	d := NewDispatcher(Config{
		WorkerVersion:   "1.0.0",
		ProtocolVersion: "1",
	}, registry, catalog, executor, sink, logger, metrics)
	return d, sink, registry
}

func mustEnvelope(t *testing.T, requestID string, mt rpc.MessageType, payload interface{}) rpc.Envelope {
	t.Helper()
	env, err := rpc.NewEnvelope(requestID, mt, payload)
	require.NoError(t, err)
	return env
}

func TestWorkerInitSuccess(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	env, err := d.OnWorkerInit("req-1", &rpc.WorkerInitRequest{HostVersion: "4.0", ProtocolVersion: "1"})
	require.NoError(t, err)
	assert.Equal(t, rpc.MessageTypeWorkerInitResponse, env.Type)
	assert.Equal(t, "req-1", env.RequestID)

	var resp rpc.WorkerInitResponse
	require.NoError(t, rpc.ParseContent(env.Content, &resp))
	assert.Equal(t, rpc.StatusSuccess, resp.Result.Status)
	assert.Equal(t, "1.0.0", resp.WorkerVersion)
}

func TestWorkerInitVersionMismatchIsFatal(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	env, err := d.OnWorkerInit("req-1", &rpc.WorkerInitRequest{ProtocolVersion: "99"})
	require.Error(t, err)
	assert.True(t, fnerrors.IsFatal(err))

	// The failure response still goes out before the session closes.
	var resp rpc.WorkerInitResponse
	require.NoError(t, rpc.ParseContent(env.Content, &resp))
	assert.Equal(t, rpc.StatusFailure, resp.Result.Status)
}

func TestLoadDispatchInvokeRoundTrip(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)
	ctx := context.Background()

	load := mustEnvelope(t, "r1", rpc.MessageTypeFunctionLoad, rpc.FunctionLoadRequest{
		FunctionID: "f1",
		Metadata: rpc.FunctionMetadata{
			Name: "Echo",
			Bindings: []rpc.BindingInfo{
				{Name: "req", Kind: "queueTrigger", Direction: rpc.DirectionIn},
			},
		},
	})
	require.NoError(t, d.Dispatch(ctx, load))

	var loadResp rpc.FunctionLoadResponse
	require.NoError(t, rpc.ParseContent(sink.last(t).Content, &loadResp))
	assert.Equal(t, rpc.StatusSuccess, loadResp.Result.Status)

	require.NoError(t, d.Dispatch(ctx, mustEnvelope(t, "r2", rpc.MessageTypeFunctionsLoadComplete, rpc.FunctionsLoadComplete{})))

	invReq := mustEnvelope(t, "r3", rpc.MessageTypeInvocationRequest, rpc.InvocationRequest{
		InvocationID: "inv-1",
		FunctionID:   "f1",
		InputData:    []rpc.ParameterBinding{{Name: "req", Data: rpc.StringValue("ping")}},
	})
	require.NoError(t, d.Dispatch(ctx, invReq))

	env := sink.lastOf(t, rpc.MessageTypeInvocationResponse)
	var invResp rpc.InvocationResponse
	require.NoError(t, rpc.ParseContent(env.Content, &invResp))
	assert.Equal(t, rpc.StatusSuccess, invResp.Result.Status)
	require.NotNil(t, invResp.ReturnValue)
	assert.Equal(t, "ping", invResp.ReturnValue.String)
}

func TestUnsupportedBindingKindFailsThatFunctionOnly(t *testing.T) {
	d, sink, registry := newTestDispatcher(t)
	ctx := context.Background()

	bad := mustEnvelope(t, "r1", rpc.MessageTypeFunctionLoad, rpc.FunctionLoadRequest{
		FunctionID: "f-bad",
		Metadata: rpc.FunctionMetadata{
			Name: "Echo",
			Bindings: []rpc.BindingInfo{
				{Name: "t", Kind: "cosmosDBTrigger", Direction: rpc.DirectionIn},
			},
		},
	})
	// Not fatal: the session keeps running.
	require.NoError(t, d.Dispatch(ctx, bad))

	var resp rpc.FunctionLoadResponse
	require.NoError(t, rpc.ParseContent(sink.last(t).Content, &resp))
	assert.Equal(t, rpc.StatusFailure, resp.Result.Status)
	assert.Contains(t, resp.Result.Exception.Message, "cosmosDBTrigger")
	assert.Equal(t, 0, registry.Len())

	// A good load afterwards still works.
	good := mustEnvelope(t, "r2", rpc.MessageTypeFunctionLoad, rpc.FunctionLoadRequest{
		FunctionID: "f-good",
		Metadata: rpc.FunctionMetadata{
			Name: "Echo",
			Bindings: []rpc.BindingInfo{
				{Name: "req", Kind: "queueTrigger", Direction: rpc.DirectionIn},
			},
		},
	})
	require.NoError(t, d.Dispatch(ctx, good))
	assert.Equal(t, 1, registry.Len())
}

func TestUnresolvedHandlerFailsLoad(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)

	load := mustEnvelope(t, "r1", rpc.MessageTypeFunctionLoad, rpc.FunctionLoadRequest{
		FunctionID: "f1",
		Metadata:   rpc.FunctionMetadata{Name: "NoSuchHandler"},
	})
	require.NoError(t, d.Dispatch(context.Background(), load))

	var resp rpc.FunctionLoadResponse
	require.NoError(t, rpc.ParseContent(sink.last(t).Content, &resp))
	assert.Equal(t, rpc.StatusFailure, resp.Result.Status)
}

func TestLoadAfterSealIsFatal(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, mustEnvelope(t, "r1", rpc.MessageTypeFunctionsLoadComplete, rpc.FunctionsLoadComplete{})))

	late := mustEnvelope(t, "r2", rpc.MessageTypeFunctionLoad, rpc.FunctionLoadRequest{
		FunctionID: "f1",
		Metadata:   rpc.FunctionMetadata{Name: "Echo"},
	})
	err := d.Dispatch(ctx, late)
	require.Error(t, err)
	assert.True(t, fnerrors.IsFatal(err))
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)

	env := rpc.Envelope{RequestID: "r1", Type: "FUTURE_MESSAGE_KIND", Timestamp: time.Now()}
	require.NoError(t, d.Dispatch(context.Background(), env))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.envelopes)
}

func TestHostHeartbeatIsAcknowledged(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)

	require.NoError(t, d.Dispatch(context.Background(),
		mustEnvelope(t, "hb-1", rpc.MessageTypeWorkerHeartbeat, rpc.WorkerHeartbeat{})))

	env := sink.last(t)
	assert.Equal(t, rpc.MessageTypeWorkerHeartbeat, env.Type)
	assert.Equal(t, "hb-1", env.RequestID)
}

func TestWorkerStatusRequest(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)

	require.NoError(t, d.Dispatch(context.Background(),
		mustEnvelope(t, "r1", rpc.MessageTypeWorkerStatusRequest, rpc.WorkerStatusRequest{})))

	env := sink.last(t)
	assert.Equal(t, rpc.MessageTypeWorkerStatusResponse, env.Type)
	assert.Equal(t, "r1", env.RequestID)

	var resp rpc.WorkerStatusResponse
	require.NoError(t, rpc.ParseContent(env.Content, &resp))
	assert.Equal(t, 0, resp.ActiveInvocations)
	assert.Equal(t, 0, resp.LoadedFunctions)
}

func TestEnvironmentReload(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)
	t.Setenv("FNWORKER_TEST_RELOAD", "before")

	req := mustEnvelope(t, "r1", rpc.MessageTypeEnvironmentReload, rpc.FunctionEnvironmentReloadRequest{
		EnvironmentVariables: map[string]string{"FNWORKER_TEST_RELOAD": "after"},
	})
	require.NoError(t, d.Dispatch(context.Background(), req))

	var resp rpc.FunctionEnvironmentReloadResponse
	require.NoError(t, rpc.ParseContent(sink.last(t).Content, &resp))
	assert.Equal(t, rpc.StatusSuccess, resp.Result.Status)
	assert.Equal(t, "after", os.Getenv("FNWORKER_TEST_RELOAD"))
}
