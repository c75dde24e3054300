package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LoggerFromContext returns base with the identifiers carried by ctx
// attached. The OpenTelemetry span id is added when ctx holds a valid span,
// so log lines can be joined to exported traces.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	fields := [...]struct{ key, val string }{
		{"trace_id", tc.TraceID},
		{"tx_id", tc.TxID},
		{"principal", tc.Principal},
		{"sweep_id", tc.SweepID},
	}

	c := base.With()
	for _, f := range fields {
		if f.val != "" {
			c = c.Str(f.key, f.val)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		c = c.Str("span_id", sc.SpanID().String())
	}
	return c.Logger()
}
