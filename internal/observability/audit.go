package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/memcore/internal/tracing"
)

// Audit event kinds.
const (
	AuditLifecycle = "lifecycle"
	AuditSync      = "sync"
)

// AuditEvent is one line of the audit log. Every status change, merge and
// deletion of a unit produces one, as does a saga left partially applied.
type AuditEvent struct {
	Kind    string
	Actor   string // principal, "governance", "ingest" or "sync"
	Action  string // "transition:ARCHIVED", "merge", "delete", "partial_write"
	Failed  bool
	UnitIDs []string
	Detail  map[string]any
	At      time.Time
}

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.New(os.Stderr)}
)

// GetAuditLogger returns the process-wide audit logger. Until
// InitAuditLogger succeeds it writes to stderr.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger points the process-wide audit logger at path, appending.
func InitAuditLogger(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	setAuditLogger(&AuditLogger{logger: zerolog.New(f), closer: f})
	return nil
}

func setAuditLogger(a *AuditLogger) {
	auditMu.Lock()
	auditInst = a
	auditMu.Unlock()
}

// Record writes event. Identifiers carried by ctx (trace, transaction,
// sweep) are added to the line, and the event is mirrored onto the active
// span when there is one.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	tc := tracing.FromContext(ctx)
	if event.Actor == "" {
		event.Actor = tc.Principal
	}
	outcome := "success"
	if event.Failed {
		outcome = "failure"
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("audit."+event.Action, trace.WithAttributes(
			attribute.String("audit.kind", event.Kind),
			attribute.String("audit.actor", event.Actor),
			attribute.StringSlice("audit.unit_ids", event.UnitIDs),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	line := a.logger.Log().
		Time("at", event.At).
		Str("kind", event.Kind).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("outcome", outcome)
	if len(event.UnitIDs) > 0 {
		line.Strs("unit_ids", event.UnitIDs)
	}
	for key, id := range map[string]string{"trace_id": tc.TraceID, "tx_id": tc.TxID, "sweep_id": tc.SweepID} {
		if id != "" {
			line.Str(key, id)
		}
	}
	if len(event.Detail) > 0 {
		line.Interface("detail", event.Detail)
	}
	line.Send()
}

// Close closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// RecordLifecycleAudit records a governance-driven status change of one unit.
func RecordLifecycleAudit(ctx context.Context, unitID, from, to, reason string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:    AuditLifecycle,
		Actor:   "governance",
		Action:  "transition:" + to,
		UnitIDs: []string{unitID},
		Detail:  map[string]any{"from": from, "reason": reason},
	})
}

// RecordMergeAudit records absorbedID being folded into survivorID. The
// survivor is listed first.
func RecordMergeAudit(ctx context.Context, actor, survivorID, absorbedID string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:    AuditLifecycle,
		Actor:   actor,
		Action:  "merge",
		UnitIDs: []string{survivorID, absorbedID},
	})
}

func RecordDeleteAudit(ctx context.Context, actor, unitID string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:    AuditLifecycle,
		Actor:   actor,
		Action:  "delete",
		UnitIDs: []string{unitID},
	})
}

// RecordPartialWriteAudit records a saga whose compensation did not fully
// succeed. Backends stay divergent until reconciliation runs.
func RecordPartialWriteAudit(ctx context.Context, txID string, unitIDs, rolledBack, notRolledBack []string, cause error) {
	detail := map[string]any{
		"tx_id":           txID,
		"rolled_back":     rolledBack,
		"not_rolled_back": notRolledBack,
	}
	if cause != nil {
		detail["cause"] = cause.Error()
	}
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:    AuditSync,
		Actor:   "sync",
		Action:  "partial_write",
		Failed:  true,
		UnitIDs: unitIDs,
		Detail:  detail,
	})
}
