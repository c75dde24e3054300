package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logOnce(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("write")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerFromContext_AddsPresentIDs(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithTxID(ctx, "tx-9")

	entry := logOnce(t, ctx)
	assert.Equal(t, "trace-123", entry["trace_id"])
	assert.Equal(t, "tx-9", entry["tx_id"])
	assert.NotContains(t, entry, "principal")
	assert.NotContains(t, entry, "sweep_id")
	assert.NotContains(t, entry, "span_id")
}

func TestLoggerFromContext_SpanID(t *testing.T) {
	rec := withRecorder(t)

	ctx := WithSweepID(context.Background(), "sweep-1")
	ctx, span := StartSpan(ctx, "test", "governance.sweep")
	entry := logOnce(t, ctx)
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, spans[0].SpanContext().SpanID().String(), entry["span_id"])
	assert.Equal(t, "sweep-1", entry["sweep_id"])
	assert.Equal(t, GetTraceID(ctx), entry["trace_id"])
}
