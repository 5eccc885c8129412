package functions

import (
	"context"

	"github.com/fnworks/fnworker/pkg/rpc"
)

// Descriptor is the immutable identity and binding contract of one loaded
// function. Bindings keep the order the host declared.
type Descriptor struct {
	ID       string
	Name     string
	Bindings []rpc.BindingInfo
}

// InputBindings returns the declared in and inout binding slots, in order.
func (d *Descriptor) InputBindings() []rpc.BindingInfo {
	var in []rpc.BindingInfo
	for _, b := range d.Bindings {
		if b.Direction == rpc.DirectionIn || b.Direction == rpc.DirectionInOut {
			in = append(in, b)
		}
	}
	return in
}

// OutputBindings returns the declared out and inout binding slots, in order.
func (d *Descriptor) OutputBindings() []rpc.BindingInfo {
	var out []rpc.BindingInfo
	for _, b := range d.Bindings {
		if b.Direction == rpc.DirectionOut || b.Direction == rpc.DirectionInOut {
			out = append(out, b)
		}
	}
	return out
}

// TriggerBinding returns the binding slot that triggers the function, or nil.
// By convention trigger kinds end in "Trigger".
func (d *Descriptor) TriggerBinding() *rpc.BindingInfo {
	for i := range d.Bindings {
		if isTriggerKind(d.Bindings[i].Kind) {
			return &d.Bindings[i]
		}
	}
	return nil
}

// IsOrchestrator reports whether the function is driven by deterministic
// replay rather than direct execution.
func (d *Descriptor) IsOrchestrator() bool {
	t := d.TriggerBinding()
	return t != nil && t.Kind == "orchestrationTrigger"
}

func isTriggerKind(kind string) bool {
	const suffix = "Trigger"
	return len(kind) > len(suffix) && kind[len(kind)-len(suffix):] == suffix
}

// LogFunc emits one log record tagged with the owning invocation. Records
// are forwarded to the host immediately, not buffered until completion.
type LogFunc func(level rpc.LogLevel, message string)

// Invocation is the per-invocation state a handler executes against. It is
// owned exclusively by the executing goroutine and never shared across
// invocations.
type Invocation struct {
	// ID is the host-supplied unique invocation id.
	ID string

	// Function is a read-only reference into the registry.
	Function *Descriptor

	// Inputs maps declared input binding names to their wire values.
	Inputs map[string]rpc.TypedValue

	// TriggerMetadata carries extra values from the trigger source.
	TriggerMetadata map[string]rpc.TypedValue

	// Trace carries host-supplied correlation metadata.
	Trace rpc.TraceContext

	// Log emits a record tagged with this invocation.
	Log LogFunc
}

// Input returns the named input value, or an absent value when the host
// supplied none.
func (inv *Invocation) Input(name string) rpc.TypedValue {
	if v, ok := inv.Inputs[name]; ok {
		return v
	}
	return rpc.AbsentValue()
}

// Result is what a handler produces on success: an optional return value and
// values for the declared output bindings.
type Result struct {
	Return  *rpc.TypedValue
	Outputs map[string]rpc.TypedValue
}

// SetOutput records a value for a named output binding.
func (r *Result) SetOutput(name string, v rpc.TypedValue) {
	if r.Outputs == nil {
		r.Outputs = make(map[string]rpc.TypedValue)
	}
	r.Outputs[name] = v
}

// Handler is the single capability every registered function implements.
// Cancellation arrives through ctx and is cooperative: handlers observe it
// at their own suspension points.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) (*Result, error)
}

// HandlerFunc adapts a plain function to the Handler capability.
type HandlerFunc func(ctx context.Context, inv *Invocation) (*Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	return f(ctx, inv)
}
