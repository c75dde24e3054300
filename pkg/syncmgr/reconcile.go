package syncmgr

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

// ReconcileOp is the repair a queued entry asks for.
type ReconcileOp string

const (
	// OpRepair makes the backend's copy match the authoritative one, or
	// removes it when no authoritative copy exists.
	OpRepair ReconcileOp = "repair"
	// OpRemove retries a failed delete.
	OpRemove ReconcileOp = "remove"
	// OpRestore puts back the version a failed compensation could not.
	OpRestore ReconcileOp = "restore"
)

// ReconcileEntry is one backend/unit pair known to be out of step.
type ReconcileEntry struct {
	Backend string      `json:"backend"`
	UnitID  string      `json:"unit_id"`
	Op      ReconcileOp `json:"op"`
	// From names the backend a fallback read succeeded on, if any.
	From string `json:"from,omitempty"`
	// Unit is the version to restore for OpRestore.
	Unit *memetic.Unit `json:"-"`
}

// ReconcileReport summarises one Reconcile pass.
type ReconcileReport struct {
	Attempted int `json:"attempted"`
	Repaired  int `json:"repaired"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

func (m *Manager) enqueue(e ReconcileEntry) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for i, p := range m.pending {
		if p.Backend == e.Backend && p.UnitID == e.UnitID {
			// The newest request wins; a later remove supersedes a repair.
			m.pending[i] = e
			return
		}
	}
	m.pending = append(m.pending, e)
}

func (m *Manager) drain() []ReconcileEntry {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	entries := m.pending
	m.pending = nil
	return entries
}

// Pending returns a copy of the reconciliation queue.
func (m *Manager) Pending() []ReconcileEntry {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return slices.Clone(m.pending)
}

// Reconcile works through the queue of divergent backend/unit pairs. Entries
// that still fail are requeued. A degraded backend with nothing left in the
// queue is marked available again once it answers a health probe.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "syncmgr.reconcile")
	defer span.End()

	var report ReconcileReport
	entries := m.drain()
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			for _, rest := range entries[i:] {
				m.enqueue(rest)
			}
			report.Pending = len(m.Pending())
			return report, err
		}
		report.Attempted++
		if err := m.reconcileOne(ctx, e); err != nil {
			report.Failed++
			m.enqueue(e)
			observability.RecordReconciliation(e.Backend, false)
			m.logger.Warn().Err(err).Str("backend", e.Backend).Str("unit_id", e.UnitID).Msg("Reconciliation failed")
			continue
		}
		report.Repaired++
		m.reconciled.Add(1)
		observability.RecordReconciliation(e.Backend, true)
		m.cache.Invalidate(e.UnitID)
	}
	if report.Repaired > 0 {
		m.invalidateQueries()
	}

	m.probeDegraded(ctx)
	report.Pending = len(m.Pending())
	span.SetAttributes(attribute.Int("repaired", report.Repaired), attribute.Int("failed", report.Failed))
	return report, nil
}

func (m *Manager) reconcileOne(ctx context.Context, e ReconcileEntry) error {
	target, ok := m.table.byName[e.Backend]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, e.Backend)
	}
	switch e.Op {
	case OpRemove:
		return m.deleteFrom(ctx, target, e.UnitID)
	case OpRestore:
		return m.putTo(ctx, target, e.Unit)
	}

	auth, err := m.authoritative(ctx, target, e)
	if err != nil {
		return err
	}
	if auth == nil {
		return m.deleteFrom(ctx, target, e.UnitID)
	}
	if target != m.table.record && !slices.Contains(m.writeTargets(auth), target) {
		return m.deleteFrom(ctx, target, e.UnitID)
	}
	return m.putTo(ctx, target, auth)
}

// authoritative returns the copy a backend should hold. For a secondary it
// is the store-of-record's copy. For the store-of-record it is its own copy
// when readable, else the newest copy any other backend holds.
func (m *Manager) authoritative(ctx context.Context, target adapter.Adapter, e ReconcileEntry) (*memetic.Unit, error) {
	record := m.table.record
	if target != record {
		return m.getFrom(ctx, record, e.UnitID)
	}

	own, err := m.getFrom(ctx, record, e.UnitID)
	if err != nil {
		return nil, err
	}
	if own != nil {
		return own, nil
	}
	var newest *memetic.Unit
	for _, a := range m.table.all[1:] {
		u, err := m.getFrom(ctx, a, e.UnitID)
		if err != nil {
			return nil, err
		}
		if u != nil && (newest == nil || u.UpdatedAt.After(newest.UpdatedAt)) {
			newest = u
		}
	}
	return newest, nil
}

func (m *Manager) probeDegraded(ctx context.Context) {
	queued := make(map[string]bool)
	for _, e := range m.Pending() {
		queued[e.Backend] = true
	}
	for name, st := range m.Status() {
		if st != BackendDegraded || queued[name] {
			continue
		}
		a := m.table.byName[name]
		if hc, ok := a.(adapter.HealthChecker); ok {
			if err := m.call(ctx, a, "ping", "", hc.Ping); err != nil {
				continue
			}
		}
		m.markAvailable(name)
	}
}

// Conflict records a unit both backends held with different update times
// during Synchronize.
type Conflict struct {
	UnitID        string    `json:"unit_id"`
	Source        string    `json:"source"`
	Target        string    `json:"target"`
	SourceUpdated time.Time `json:"source_updated"`
	TargetUpdated time.Time `json:"target_updated"`
	Winner        string    `json:"winner"`
	At            time.Time `json:"at"`
}

// conflictLog keeps the most recent conflicts.
type conflictLog struct {
	mu      sync.Mutex
	entries []Conflict
	size    int
	count   uint64
}

func newConflictLog(size int) *conflictLog {
	return &conflictLog{size: size}
}

func (l *conflictLog) add(c Conflict) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	l.entries = append(l.entries, c)
	if len(l.entries) > l.size {
		l.entries = slices.Delete(l.entries, 0, len(l.entries)-l.size)
	}
}

func (l *conflictLog) list() []Conflict {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

func (l *conflictLog) total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Conflicts returns the most recent synchronization conflicts, oldest first.
func (m *Manager) Conflicts() []Conflict {
	return m.conflicts.list()
}

// SyncReport summarises one Synchronize run.
type SyncReport struct {
	Scanned   int `json:"scanned"`
	Copied    int `json:"copied"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

// Synchronize copies every unit from source to target. When both hold a
// unit with different update times the newer copy wins and the conflict is
// logged.
func (m *Manager) Synchronize(ctx context.Context, source, target string) (SyncReport, error) {
	var report SyncReport
	src, ok := m.table.byName[source]
	if !ok {
		return report, fmt.Errorf("%w: %s", ErrUnknownBackend, source)
	}
	dst, ok := m.table.byName[target]
	if !ok {
		return report, fmt.Errorf("%w: %s", ErrUnknownBackend, target)
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "syncmgr.synchronize",
		attribute.String("source", source), attribute.String("target", target))
	defer span.End()

	units, err := m.searchIn(ctx, src, adapter.Query{})
	if err != nil {
		return report, err
	}
	defer m.invalidateQueries()

	for _, u := range units {
		report.Scanned++
		if !dst.Capabilities().Accepts(u) {
			report.Skipped++
			continue
		}
		existing, err := m.getFrom(ctx, dst, u.ID)
		if err != nil {
			m.degrade(dst, err)
			return report, err
		}
		if existing != nil {
			if existing.UpdatedAt.Equal(u.UpdatedAt) {
				report.Skipped++
				continue
			}
			winner := target
			if u.UpdatedAt.After(existing.UpdatedAt) {
				winner = source
			}
			m.conflicts.add(Conflict{
				UnitID:        u.ID,
				Source:        source,
				Target:        target,
				SourceUpdated: u.UpdatedAt,
				TargetUpdated: existing.UpdatedAt,
				Winner:        winner,
				At:            time.Now(),
			})
			report.Conflicts++
			if winner == target {
				report.Skipped++
				continue
			}
		}
		if err := m.putTo(ctx, dst, u); err != nil {
			m.degrade(dst, err)
			return report, err
		}
		m.cache.Invalidate(u.ID)
		m.synchronized.Add(1)
		report.Copied++
	}

	m.logger.Info().
		Str("source", source).
		Str("target", target).
		Int("copied", report.Copied).
		Int("conflicts", report.Conflicts).
		Msg("Backends synchronized")
	return report, nil
}
