package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestStartSpan_TagsContextIDs(t *testing.T) {
	rec := withRecorder(t)

	ctx := WithTxID(context.Background(), "tx-1")
	ctx = WithPrincipal(ctx, "agent-7")
	ctx, span := StartSpan(ctx, "test", "syncmgr.write", attribute.Int("units", 2))
	span.End()

	assert.NotEmpty(t, GetTraceID(ctx), "span trace id is stored on the context")

	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "tx-1", attrs["memcore.tx_id"].AsString())
	assert.Equal(t, "agent-7", attrs["memcore.principal"].AsString())
	assert.Equal(t, int64(2), attrs["units"].AsInt64())
	_, hasSweep := attrs["memcore.sweep_id"]
	assert.False(t, hasSweep)
}

func TestStartSpan_KeepsExistingTraceID(t *testing.T) {
	withRecorder(t)

	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx, span := StartSpan(ctx, "test", "memory.get")
	defer span.End()

	assert.Equal(t, "trace-abc", GetTraceID(ctx))
}

func TestFail(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "test", "memory.ingest")
	Fail(span, errors.New("backend down"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "backend down", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
