package syncmgr

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

// step is one applied (or possibly applied) put inside a saga.
type step struct {
	backend adapter.Adapter
	unit    *memetic.Unit
	prior   *memetic.Unit
}

// writeTargets returns the backends u is written to, in route order. The
// store-of-record is never skipped; other backends that cannot hold u are.
func (m *Manager) writeTargets(u *memetic.Unit) []adapter.Adapter {
	route := m.table.route(u.CognitiveType)
	targets := make([]adapter.Adapter, 0, len(route.writes))
	for _, a := range route.writes {
		if a != m.table.record && !a.Capabilities().Accepts(u) {
			continue
		}
		targets = append(targets, a)
	}
	return targets
}

// Write stores units on their routed backends as one saga. Either every
// put lands and the cache is refreshed, or the applied puts are undone in
// reverse order and a *TxAbortedError is returned. If an undo fails the
// result is a *PartialWriteError.
func (m *Manager) Write(ctx context.Context, units ...*memetic.Unit) error {
	if len(units) == 0 {
		return nil
	}
	ctx, txID := tracing.NewTxContext(ctx)
	ctx, span := tracing.StartSpan(ctx, tracerName, "syncmgr.write",
		attribute.String("tx_id", txID),
		attribute.Int("units", len(units)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()

	var steps []step
	var cause error
apply:
	for _, u := range units {
		for _, a := range m.writeTargets(u) {
			if err := ctx.Err(); err != nil {
				cause = err
				break apply
			}
			prior, err := m.getFrom(ctx, a, u.ID)
			if err != nil {
				m.degrade(a, err)
				cause = err
				break apply
			}
			if err := m.putTo(ctx, a, u); err != nil {
				m.degrade(a, err)
				cause = err
				// A timed-out put may still land.
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					steps = append(steps, step{backend: a, unit: u, prior: prior})
				}
				break apply
			}
			steps = append(steps, step{backend: a, unit: u, prior: prior})
		}
	}

	ids := unitIDs(units)
	if cause == nil {
		for _, u := range units {
			m.cache.Put(u)
			m.rememberType(u)
		}
		m.invalidateQueries()
		m.committed.Add(1)
		observability.RecordSyncTransaction("committed", time.Since(start))
		logger.Debug().Strs("unit_ids", ids).Int("steps", len(steps)).Msg("Transaction committed")
		return nil
	}

	tracing.Fail(span, cause)
	rolledBack, notRolledBack, compErr := m.compensate(ctx, steps)
	for _, u := range units {
		m.cache.Invalidate(u.ID)
	}
	m.invalidateQueries()

	if compErr == nil {
		m.aborted.Add(1)
		observability.RecordSyncTransaction("aborted", time.Since(start))
		logger.Warn().Err(cause).Strs("unit_ids", ids).Strs("rolled_back", rolledBack).Msg("Transaction aborted")
		return &TxAbortedError{TxID: txID, UnitIDs: ids, Cause: cause}
	}

	m.partial.Add(1)
	observability.RecordSyncTransaction("partial", time.Since(start))
	observability.RecordPartialWriteAudit(ctx, txID, ids, rolledBack, notRolledBack, cause)
	logger.Error().
		Err(cause).
		AnErr("compensation", compErr).
		Strs("unit_ids", ids).
		Strs("rolled_back", rolledBack).
		Strs("not_rolled_back", notRolledBack).
		Msg("Transaction partially written")
	return &PartialWriteError{
		TxID:          txID,
		UnitIDs:       ids,
		RolledBack:    rolledBack,
		NotRolledBack: notRolledBack,
		Cause:         cause,
		Compensation:  compErr,
	}
}

// compensate undoes steps in reverse order: a unit that was absent is
// deleted, a unit that existed gets its prior version back. It runs on a
// context detached from the caller's cancellation; each call still gets
// the adapter timeout.
func (m *Manager) compensate(ctx context.Context, steps []step) (rolledBack, notRolledBack []string, err error) {
	ctx = context.WithoutCancel(ctx)

	failed := make(map[string]bool)
	var touched []string
	var errs []error
	for _, s := range slices.Backward(steps) {
		name := s.backend.Name()
		if !slices.Contains(touched, name) {
			touched = append(touched, name)
		}

		var cerr error
		if s.prior == nil {
			cerr = m.deleteFrom(ctx, s.backend, s.unit.ID)
		} else {
			cerr = m.putTo(ctx, s.backend, s.prior)
		}
		observability.RecordCompensation(name, cerr == nil)
		if cerr != nil {
			failed[name] = true
			errs = append(errs, cerr)
			m.degrade(s.backend, cerr)
			if s.prior == nil {
				m.enqueue(ReconcileEntry{Backend: name, UnitID: s.unit.ID, Op: OpRemove})
			} else {
				m.enqueue(ReconcileEntry{Backend: name, UnitID: s.unit.ID, Op: OpRestore, Unit: s.prior})
			}
		}
	}

	for _, name := range touched {
		if failed[name] {
			notRolledBack = append(notRolledBack, name)
		} else {
			rolledBack = append(rolledBack, name)
		}
	}
	return rolledBack, notRolledBack, errors.Join(errs...)
}

func unitIDs(units []*memetic.Unit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}
