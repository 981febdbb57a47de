package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const acpTracerName = "acpchat-acp"

func acpTracer() trace.Tracer {
	return Tracer(acpTracerName)
}

// TraceTurn starts a span covering one prompt turn.
// Caller must call EndSpan when the turn finishes.
func TraceTurn(ctx context.Context, agentType, sessionID string, attachments int) (context.Context, trace.Span) {
	ctx, span := acpTracer().Start(ctx, "acp.turn",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("acp.agent_type", agentType),
		attribute.String("acp.session_id", sessionID),
		attribute.Int("acp.attachments", attachments),
	)
	return ctx, span
}

// TraceCallback starts a span for an agent-initiated request such as
// fs/read_text_file or terminal/create.
func TraceCallback(ctx context.Context, method, sessionID string) (context.Context, trace.Span) {
	ctx, span := acpTracer().Start(ctx, "acp.callback "+method,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("rpc.method", method),
		attribute.String("acp.session_id", sessionID),
	)
	return ctx, span
}

// TraceSpawn starts a span for starting and initializing an agent subprocess.
func TraceSpawn(ctx context.Context, agentType, command string) (context.Context, trace.Span) {
	ctx, span := acpTracer().Start(ctx, "acp.spawn",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("acp.agent_type", agentType),
		attribute.String("process.command", command),
	)
	return ctx, span
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
