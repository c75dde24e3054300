package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TxIDKey is the context key for a sync transaction ID
	TxIDKey ContextKey = "tx_id"
	// PrincipalKey is the context key for the calling principal
	PrincipalKey ContextKey = "principal"
	// SweepIDKey is the context key for a governance sweep run
	SweepIDKey ContextKey = "sweep_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	TxID      string
	Principal string
	SweepID   string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTxID generates a new transaction ID
func NewTxID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithTxID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, TxIDKey, txID)
}

func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

func WithSweepID(ctx context.Context, sweepID string) context.Context {
	return context.WithValue(ctx, SweepIDKey, sweepID)
}

func value(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetTxID retrieves the transaction ID from the context
func GetTxID(ctx context.Context) string { return value(ctx, TxIDKey) }

// GetPrincipal retrieves the principal from the context
func GetPrincipal(ctx context.Context) string { return value(ctx, PrincipalKey) }

// GetSweepID retrieves the sweep ID from the context
func GetSweepID(ctx context.Context) string { return value(ctx, SweepIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TxID:      GetTxID(ctx),
		Principal: GetPrincipal(ctx),
		SweepID:   GetSweepID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.TxID != "" {
		ctx = WithTxID(ctx, tc.TxID)
	}
	if tc.Principal != "" {
		ctx = WithPrincipal(ctx, tc.Principal)
	}
	if tc.SweepID != "" {
		ctx = WithSweepID(ctx, tc.SweepID)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewTxContext starts a sync transaction, keeping the caller's trace ID and
// minting one when absent.
func NewTxContext(ctx context.Context) (context.Context, string) {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	txID := NewTxID()
	return WithTxID(ctx, txID), txID
}
