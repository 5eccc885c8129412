package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/rpc"
	"github.com/fnworks/fnworker/pkg/telemetry"
)

// Handler is the session's upward interface: the dispatcher answers the init
// handshake and routes everything that arrives afterwards. A non-nil error
// from either method faults the session.
type Handler interface {
	OnWorkerInit(requestID string, req *rpc.WorkerInitRequest) (rpc.Envelope, error)
	Dispatch(ctx context.Context, env rpc.Envelope) error
}

// Drainer finishes in-flight work during shutdown. The executor implements it.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Config holds the session's transport and lifecycle settings.
type Config struct {
	Address           string
	WorkerID          string
	HeartbeatInterval time.Duration
	DrainTimeout      time.Duration
	MaxFrameSize      int
}

// Session is one worker-to-host connection.
type Session struct {
	cfg    Config
	conn   io.ReadWriteCloser
	dec    *rpc.Decoder
	logger *telemetry.Logger

	writeMu sync.Mutex
	enc     *rpc.Encoder

	stateMu sync.Mutex
	state   State
}

// Dial connects to the host and wraps the connection in a session.
func Dial(ctx context.Context, cfg Config, logger *telemetry.Logger) (*Session, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to host at %s: %w", cfg.Address, err)
	}
	return New(conn, cfg, logger), nil
}

// New wraps an established connection. Split from Dial so tests can drive a
// session over an in-memory pipe.
func New(conn io.ReadWriteCloser, cfg Config, logger *telemetry.Logger) *Session {
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.New().String()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Session{
		cfg:    cfg,
		conn:   conn,
		enc:    rpc.NewEncoder(conn),
		dec:    rpc.NewDecoderSize(conn, cfg.MaxFrameSize),
		logger: logger.NewComponentLogger("session"),
		state:  StateConnecting,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves the state machine forward. Illegal moves fault the session
// instead of silently corrupting its phase.
func (s *Session) transition(to State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == to {
		return
	}
	if !canTransition(s.state, to) {
		if s.state == StateClosed || s.state == StateFaulted {
			return
		}
		s.logger.Errorf("illegal session transition %s -> %s", s.state, to)
		s.state = StateFaulted
		return
	}
	s.logger.Debugf("session %s -> %s", s.state, to)
	s.state = to
}

// Send writes one envelope. Safe for concurrent use; responses from parallel
// invocations interleave at frame granularity, never inside a frame.
func (s *Session) Send(env rpc.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.Encode(env)
}

// Run drives the session to completion: handshake, then the read loop, then
// drain on terminate. It returns nil on clean shutdown.
func (s *Session) Run(ctx context.Context, handler Handler, drainer Drainer) error {
	if err := s.handshake(ctx); err != nil {
		return s.fault(err)
	}

	initEnv, err := s.dec.Decode()
	if err != nil {
		return s.fault(fnerrors.NewProtocolError("failed to read init message", err))
	}
	if initEnv.Type != rpc.MessageTypeWorkerInit {
		return s.fault(fnerrors.NewProtocolError(
			fmt.Sprintf("expected %s, got %s", rpc.MessageTypeWorkerInit, initEnv.Type), nil))
	}

	var initReq rpc.WorkerInitRequest
	if err := rpc.ParseContent(initEnv.Content, &initReq); err != nil {
		return s.fault(fnerrors.NewProtocolError("malformed init message", err))
	}

	resp, initErr := handler.OnWorkerInit(initEnv.RequestID, &initReq)
	if sendErr := s.Send(resp); sendErr != nil {
		return s.fault(fnerrors.NewProtocolError("failed to send init response", sendErr))
	}
	if initErr != nil {
		return s.fault(initErr)
	}

	s.transition(StateReady)
	s.logger.WithField("worker_id", s.cfg.WorkerID).Info("session ready")

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeat(heartbeatCtx)

	return s.readLoop(ctx, handler, drainer)
}

// handshake opens the stream from the worker side.
func (s *Session) handshake(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.transition(StateHandshaking)
	env, err := rpc.NewEnvelope(uuid.New().String(), rpc.MessageTypeStartStream, rpc.StartStream{
		WorkerID: s.cfg.WorkerID,
	})
	if err != nil {
		return fnerrors.NewProtocolError("failed to build start stream", err)
	}
	if err := s.Send(env); err != nil {
		return fnerrors.NewProtocolError("failed to open stream", err)
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, handler Handler, drainer Drainer) error {
	for {
		env, err := s.dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) && s.State() != StateReady {
				return nil
			}
			return s.fault(fnerrors.NewProtocolError("transport read failed", err))
		}

		if env.Type == rpc.MessageTypeWorkerTerminate {
			return s.terminate(ctx, env, drainer)
		}

		if err := handler.Dispatch(ctx, env); err != nil {
			if fnerrors.IsFatal(err) {
				return s.fault(err)
			}
			// Non-fatal dispatch errors were already answered on the wire.
			s.logger.WithError(err).Warn("dispatch error")
		}
	}
}

// terminate runs the drain phase and closes the connection.
func (s *Session) terminate(ctx context.Context, env rpc.Envelope, drainer Drainer) error {
	var term rpc.WorkerTerminate
	if len(env.Content) > 0 {
		if err := rpc.ParseContent(env.Content, &term); err != nil {
			return s.fault(fnerrors.NewProtocolError("malformed terminate message", err))
		}
	}

	grace := s.cfg.DrainTimeout
	if term.GracePeriodSeconds > 0 {
		grace = time.Duration(term.GracePeriodSeconds) * time.Second
	}

	s.transition(StateDraining)
	s.logger.WithField("grace", grace.String()).Info("terminate received, draining")

	drainCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := drainer.Drain(drainCtx); err != nil {
		s.logger.WithError(err).Warn("drain did not finish within grace period")
	}

	s.transition(StateClosed)
	if err := s.conn.Close(); err != nil {
		s.logger.WithError(err).Debug("connection close error")
	}
	s.logger.Info("session closed")
	return nil
}

// heartbeat sends periodic liveness probes until the session ends.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() != StateReady {
				return
			}
			env, err := rpc.NewEnvelope(uuid.New().String(), rpc.MessageTypeWorkerHeartbeat, rpc.WorkerHeartbeat{})
			if err != nil {
				return
			}
			if err := s.Send(env); err != nil {
				s.logger.WithError(err).Debug("heartbeat send failed")
				return
			}
		}
	}
}

// fault moves the session to Faulted, closes the transport, and passes the
// cause through.
func (s *Session) fault(err error) error {
	s.transition(StateFaulted)
	_ = s.conn.Close()
	s.logger.WithError(err).Error("session faulted")
	return err
}
