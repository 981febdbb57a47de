package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansAreRecorded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	ctx, turn := TraceTurn(context.Background(), "claude", "s1", 2)
	_, cb := TraceCallback(ctx, "fs/read_text_file", "s1")
	EndSpan(cb, errors.New("denied"))
	EndSpan(turn, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "acp.callback fs/read_text_file", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "acp.turn", spans[1].Name())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestEndpointHost(t *testing.T) {
	assert.Equal(t, "collector:4318", endpointHost("http://collector:4318"))
	assert.Equal(t, "collector:4318", endpointHost("https://collector:4318"))
	assert.Equal(t, "collector:4318", endpointHost("collector:4318"))
}
