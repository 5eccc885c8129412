package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fnworks/fnworker"

// Tracer returns the worker's tracer from the global provider. Without a
// configured SDK this is a no-op tracer, which is the correct default for a
// worker whose host owns the trace.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// ContextWithRemoteTrace attaches a host-supplied W3C traceparent (and
// optional tracestate) to the context as a remote span context. Malformed
// values are ignored; correlation metadata is best-effort, never a reason to
// fail an invocation.
func ContextWithRemoteTrace(ctx context.Context, traceParent, traceState string) context.Context {
	sc, ok := parseTraceParent(traceParent)
	if !ok {
		return ctx
	}
	if traceState != "" {
		if ts, err := trace.ParseTraceState(traceState); err == nil {
			sc = sc.WithTraceState(ts)
		}
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// StartInvocationSpan opens a span for one invocation, as a child of the
// remote span when the host supplied one.
func StartInvocationSpan(ctx context.Context, invocationID, functionName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "fnworker.invoke",
		trace.WithAttributes(
			attribute.String("faas.invocation_id", invocationID),
			attribute.String("faas.name", functionName),
		),
	)
}

// parseTraceParent parses the "00-<trace-id>-<span-id>-<flags>" form.
func parseTraceParent(header string) (trace.SpanContext, bool) {
	parts := strings.Split(strings.TrimSpace(header), "-")
	if len(parts) != 4 || parts[0] != "00" {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if len(parts[3]) == 2 && parts[3] == "01" {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	if !sc.IsValid() {
		return trace.SpanContext{}, false
	}
	return sc, true
}
