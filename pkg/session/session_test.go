package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnworks/fnworker/pkg/dispatch"
	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/functions"
	"github.com/fnworks/fnworker/pkg/invoke"
	"github.com/fnworks/fnworker/pkg/rpc"
	"github.com/fnworks/fnworker/pkg/telemetry"
)

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Output: "stderr"})
	require.NoError(t, err)
	return logger
}

// fakeHandler answers init and records dispatched envelopes.
type fakeHandler struct {
	mu         sync.Mutex
	initErr    error
	dispatched []rpc.Envelope
	dispatchFn func(env rpc.Envelope) error
}

func (h *fakeHandler) OnWorkerInit(requestID string, req *rpc.WorkerInitRequest) (rpc.Envelope, error) {
	status := rpc.StatusResult{Status: rpc.StatusSuccess}
	if h.initErr != nil {
		status = rpc.StatusResult{Status: rpc.StatusFailure, Exception: &rpc.ExceptionInfo{Message: h.initErr.Error()}}
	}
	env, _ := rpc.NewEnvelope(requestID, rpc.MessageTypeWorkerInitResponse, rpc.WorkerInitResponse{
		WorkerVersion: "test",
		Result:        status,
	})
	return env, h.initErr
}

func (h *fakeHandler) Dispatch(ctx context.Context, env rpc.Envelope) error {
	h.mu.Lock()
	h.dispatched = append(h.dispatched, env)
	h.mu.Unlock()
	if h.dispatchFn != nil {
		return h.dispatchFn(env)
	}
	return nil
}

type fakeDrainer struct {
	mu     sync.Mutex
	called bool
}

func (d *fakeDrainer) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.called = true
	d.mu.Unlock()
	return nil
}

// host is the test's side of the pipe.
type host struct {
	enc *rpc.Encoder
	dec *rpc.Decoder
}

func newHost(conn net.Conn) *host {
	return &host{enc: rpc.NewEncoder(conn), dec: rpc.NewDecoder(conn)}
}

func (h *host) send(t *testing.T, requestID string, mt rpc.MessageType, payload interface{}) {
	t.Helper()
	env, err := rpc.NewEnvelope(requestID, mt, payload)
	require.NoError(t, err)
	require.NoError(t, h.enc.Encode(env))
}

func (h *host) recv(t *testing.T) rpc.Envelope {
	t.Helper()
	env, err := h.dec.Decode()
	require.NoError(t, err)
	return env
}

func (h *host) recvType(t *testing.T, mt rpc.MessageType) rpc.Envelope {
	t.Helper()
	for {
		env := h.recv(t)
		if env.Type == mt {
			return env
		}
	}
}

func startSession(t *testing.T, handler Handler, drainer Drainer) (*Session, *host, chan error) {
	t.Helper()
	hostConn, workerConn := net.Pipe()
	t.Cleanup(func() {
		hostConn.Close()
		workerConn.Close()
	})

	sess := New(workerConn, Config{
		WorkerID:          "worker-test",
		HeartbeatInterval: time.Hour,
		DrainTimeout:      5 * time.Second,
	}, testLogger(t))

	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(context.Background(), handler, drainer)
	}()
	return sess, newHost(hostConn), runErr
}

func (h *host) handshake(t *testing.T) {
	t.Helper()
	start := h.recv(t)
	require.Equal(t, rpc.MessageTypeStartStream, start.Type)

	h.send(t, "init-1", rpc.MessageTypeWorkerInit, rpc.WorkerInitRequest{
		HostVersion:     "4.0",
		ProtocolVersion: "1",
	})
	resp := h.recv(t)
	require.Equal(t, rpc.MessageTypeWorkerInitResponse, resp.Type)
	require.Equal(t, "init-1", resp.RequestID)
}

func TestSessionHandshakeReachesReady(t *testing.T) {
	sess, hostSide, _ := startSession(t, &fakeHandler{}, &fakeDrainer{})

	hostSide.handshake(t)

	require.Eventually(t, func() bool {
		return sess.State() == StateReady
	}, time.Second, 5*time.Millisecond)
}

func TestSessionInitFailureFaults(t *testing.T) {
	handler := &fakeHandler{initErr: fnerrors.NewProtocolError("version mismatch", nil).WithCode(fnerrors.CodeVersionMismatch)}
	sess, hostSide, runErr := startSession(t, handler, &fakeDrainer{})

	start := hostSide.recv(t)
	require.Equal(t, rpc.MessageTypeStartStream, start.Type)
	hostSide.send(t, "init-1", rpc.MessageTypeWorkerInit, rpc.WorkerInitRequest{ProtocolVersion: "99"})

	// The failure response still arrives before the session dies.
	resp := hostSide.recv(t)
	var init rpc.WorkerInitResponse
	require.NoError(t, rpc.ParseContent(resp.Content, &init))
	assert.Equal(t, rpc.StatusFailure, init.Result.Status)

	err := <-runErr
	require.Error(t, err)
	assert.True(t, fnerrors.IsFatal(err))
	assert.Equal(t, StateFaulted, sess.State())
}

func TestSessionRejectsWrongFirstMessage(t *testing.T) {
	sess, hostSide, runErr := startSession(t, &fakeHandler{}, &fakeDrainer{})

	start := hostSide.recv(t)
	require.Equal(t, rpc.MessageTypeStartStream, start.Type)
	hostSide.send(t, "r1", rpc.MessageTypeInvocationRequest, rpc.InvocationRequest{InvocationID: "i", FunctionID: "f"})

	err := <-runErr
	require.Error(t, err)
	assert.Equal(t, StateFaulted, sess.State())
}

func TestSessionTerminateDrainsAndCloses(t *testing.T) {
	drainer := &fakeDrainer{}
	sess, hostSide, runErr := startSession(t, &fakeHandler{}, drainer)

	hostSide.handshake(t)
	hostSide.send(t, "term-1", rpc.MessageTypeWorkerTerminate, rpc.WorkerTerminate{GracePeriodSeconds: 1})

	require.NoError(t, <-runErr)
	assert.Equal(t, StateClosed, sess.State())

	drainer.mu.Lock()
	defer drainer.mu.Unlock()
	assert.True(t, drainer.called)
}

func TestSessionTransportLossFaults(t *testing.T) {
	hostConn, workerConn := net.Pipe()
	sess := New(workerConn, Config{HeartbeatInterval: time.Hour}, testLogger(t))

	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(context.Background(), &fakeHandler{}, &fakeDrainer{})
	}()

	hostSide := newHost(hostConn)
	hostSide.handshake(t)

	require.Eventually(t, func() bool { return sess.State() == StateReady }, time.Second, 5*time.Millisecond)
	hostConn.Close()

	err := <-runErr
	require.Error(t, err)
	assert.Equal(t, StateFaulted, sess.State())
}

func TestSessionFatalDispatchErrorFaults(t *testing.T) {
	handler := &fakeHandler{
		dispatchFn: func(env rpc.Envelope) error {
			return fnerrors.NewProtocolError("corrupt message", nil)
		},
	}
	sess, hostSide, runErr := startSession(t, handler, &fakeDrainer{})

	hostSide.handshake(t)
	hostSide.send(t, "r1", rpc.MessageTypeFunctionLoad, rpc.FunctionLoadRequest{FunctionID: "f1"})

	err := <-runErr
	require.Error(t, err)
	assert.Equal(t, StateFaulted, sess.State())
}

func TestSessionNonFatalDispatchErrorKeepsRunning(t *testing.T) {
	handler := &fakeHandler{
		dispatchFn: func(env rpc.Envelope) error {
			return fnerrors.NewDecodeError("bad input", nil)
		},
	}
	sess, hostSide, _ := startSession(t, handler, &fakeDrainer{})

	hostSide.handshake(t)
	hostSide.send(t, "r1", rpc.MessageTypeInvocationRequest, rpc.InvocationRequest{InvocationID: "i", FunctionID: "f"})
	hostSide.send(t, "r2", rpc.MessageTypeInvocationRequest, rpc.InvocationRequest{InvocationID: "i2", FunctionID: "f"})

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.dispatched) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateReady, sess.State())
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateConnecting, StateHandshaking, true},
		{StateHandshaking, StateReady, true},
		{StateReady, StateDraining, true},
		{StateDraining, StateClosed, true},
		{StateReady, StateClosed, true},
		{StateReady, StateFaulted, true},
		{StateConnecting, StateFaulted, true},
		{StateClosed, StateFaulted, false},
		{StateClosed, StateReady, false},
		{StateDraining, StateReady, false},
		{StateReady, StateHandshaking, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"_to_"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, canTransition(tt.from, tt.to))
		})
	}
}

// TestWorkerEndToEnd drives the full stack over an in-memory pipe: handshake,
// load, seal, invoke, terminate.
func TestWorkerEndToEnd(t *testing.T) {
	logger := testLogger(t)
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	require.NoError(t, err)

	hostConn, workerConn := net.Pipe()
	t.Cleanup(func() {
		hostConn.Close()
		workerConn.Close()
	})

	sess := New(workerConn, Config{
		WorkerID:          "worker-e2e",
		HeartbeatInterval: time.Hour,
	}, logger)

	registry := functions.NewRegistry()
	catalog := functions.NewCatalog().
		Add("Greet", functions.HandlerFunc(func(ctx context.Context, inv *functions.Invocation) (*functions.Result, error) {
			inv.Log(rpc.LogLevelInformation, "greeting "+inv.Input("name").String)
			ret := rpc.StringValue("hello " + inv.Input("name").String)
			return &functions.Result{Return: &ret}, nil
		}))
	executor := invoke.NewExecutor(registry, sess, logger, metrics)
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		WorkerVersion:   "1.0.0",
		ProtocolVersion: "1",
	}, registry, catalog, executor, sess, logger, metrics)

	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(context.Background(), dispatcher, executor)
	}()

	hostSide := newHost(hostConn)
	hostSide.handshake(t)

	hostSide.send(t, "load-1", rpc.MessageTypeFunctionLoad, rpc.FunctionLoadRequest{
		FunctionID: "f1",
		Metadata: rpc.FunctionMetadata{
			Name: "Greet",
			Bindings: []rpc.BindingInfo{
				{Name: "name", Kind: "queueTrigger", Direction: rpc.DirectionIn, DataType: rpc.DataTypeString},
			},
		},
	})
	loadEnv := hostSide.recvType(t, rpc.MessageTypeFunctionLoadResponse)
	var loadResp rpc.FunctionLoadResponse
	require.NoError(t, rpc.ParseContent(loadEnv.Content, &loadResp))
	require.Equal(t, rpc.StatusSuccess, loadResp.Result.Status)

	hostSide.send(t, "seal-1", rpc.MessageTypeFunctionsLoadComplete, rpc.FunctionsLoadComplete{})
	hostSide.recvType(t, rpc.MessageTypeFunctionsLoadCompleteResponse)

	hostSide.send(t, "inv-req-1", rpc.MessageTypeInvocationRequest, rpc.InvocationRequest{
		InvocationID: "inv-1",
		FunctionID:   "f1",
		InputData:    []rpc.ParameterBinding{{Name: "name", Data: rpc.StringValue("world")}},
	})

	// The relayed log arrives before the response.
	logEnv := hostSide.recvType(t, rpc.MessageTypeLog)
	var record rpc.LogRecord
	require.NoError(t, rpc.ParseContent(logEnv.Content, &record))
	assert.Equal(t, "inv-1", record.InvocationID)

	respEnv := hostSide.recvType(t, rpc.MessageTypeInvocationResponse)
	var invResp rpc.InvocationResponse
	require.NoError(t, rpc.ParseContent(respEnv.Content, &invResp))
	assert.Equal(t, rpc.StatusSuccess, invResp.Result.Status)
	require.NotNil(t, invResp.ReturnValue)
	assert.Equal(t, "hello world", invResp.ReturnValue.String)

	hostSide.send(t, "term-1", rpc.MessageTypeWorkerTerminate, rpc.WorkerTerminate{GracePeriodSeconds: 2})
	require.NoError(t, <-runErr)
	assert.Equal(t, StateClosed, sess.State())
}
