package durable

import (
	"context"
	"encoding/json"

	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/functions"
	"github.com/fnworks/fnworker/pkg/rpc"
)

// OrchestratorInput is the payload the host places on an orchestration
// trigger binding: the instance input plus everything recorded so far.
type OrchestratorInput struct {
	Input   rpc.TypedValue `json:"input"`
	History History        `json:"history"`
}

// OrchestratorHandler adapts an orchestrator body to the function handler
// capability, so orchestrators load and invoke through the same registry and
// executor as ordinary functions.
type OrchestratorHandler struct {
	engine *Engine
	fn     OrchestratorFunc
}

// NewOrchestratorHandler wraps an orchestrator body for registration.
func NewOrchestratorHandler(engine *Engine, fn OrchestratorFunc) *OrchestratorHandler {
	return &OrchestratorHandler{engine: engine, fn: fn}
}

// Execute implements functions.Handler. The replay pass itself ignores ctx:
// cancellation between passes is the host's job, and a single pass is pure
// computation over history.
func (h *OrchestratorHandler) Execute(ctx context.Context, inv *functions.Invocation) (*functions.Result, error) {
	trigger := inv.Function.TriggerBinding()
	if trigger == nil {
		return nil, fnerrors.NewDecodeError("orchestrator has no trigger binding", nil).
			WithFunction(inv.Function.ID).
			WithInvocation(inv.ID)
	}

	raw := inv.Input(trigger.Name)
	if raw.Kind != rpc.KindJSON {
		return nil, fnerrors.NewDecodeError("orchestration trigger payload must be json", nil).
			WithCode(fnerrors.CodeTypeMismatch).
			WithInvocation(inv.ID)
	}

	var in OrchestratorInput
	if err := json.Unmarshal(raw.JSON, &in); err != nil {
		return nil, fnerrors.NewDecodeError("failed to parse orchestration trigger payload", err).
			WithCode(fnerrors.CodeMalformedPayload).
			WithInvocation(inv.ID)
	}

	outcome := h.engine.Execute(h.fn, in.Input, in.History)

	ret, err := rpc.MarshalValue(outcome)
	if err != nil {
		return nil, fnerrors.NewHandlerError("failed to encode replay outcome", err).
			WithInvocation(inv.ID)
	}
	return &functions.Result{Return: &ret}, nil
}
