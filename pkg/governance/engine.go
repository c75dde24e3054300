package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/dedup"
	"github.com/harun/memcore/pkg/memetic"
	"github.com/harun/memcore/pkg/syncmgr"
)

const tracerName = "memcore.governance"

// Config configures an Engine. Zero values take the defaults below.
type Config struct {
	Policy Policy

	// LowWater is the salience below which an ACTIVE unit is archived.
	LowWater float64
	// MinRetention is how long a unit is kept ACTIVE regardless of salience.
	// A unit's own lifespan policy may ask for longer.
	MinRetention time.Duration

	// AccessBoost is added to salience on every access, scaled by (1+importance).
	AccessBoost float64
	// ReactivationBoost scales importance on top of LowWater when an ARCHIVED
	// unit is reactivated.
	ReactivationBoost float64
	// ReactivationThreshold is the minimum importance that reactivates an
	// ARCHIVED unit.
	ReactivationThreshold float64

	Logger zerolog.Logger
	Now    func() time.Time
}

const (
	DefaultDecayPeriod       = 24 * time.Hour
	DefaultDecayRate         = 0.05
	DefaultFrequencyWeight   = 0.5
	DefaultLinkWeight        = 0.1
	DefaultLowWater          = 0.1
	DefaultAccessBoost       = 0.05
	DefaultReactivationBoost = 0.3
)

func (c *Config) applyDefaults() {
	if c.Policy.Period <= 0 {
		c.Policy.Period = DefaultDecayPeriod
	}
	if c.Policy.Rate <= 0 {
		c.Policy.Rate = DefaultDecayRate
	}
	if c.Policy.FrequencyWeight <= 0 {
		c.Policy.FrequencyWeight = DefaultFrequencyWeight
	}
	if c.Policy.LinkWeight <= 0 {
		c.Policy.LinkWeight = DefaultLinkWeight
	}
	if c.LowWater <= 0 {
		c.LowWater = DefaultLowWater
	}
	if c.AccessBoost <= 0 {
		c.AccessBoost = DefaultAccessBoost
	}
	if c.ReactivationBoost <= 0 {
		c.ReactivationBoost = DefaultReactivationBoost
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned  int           `json:"scanned"`
	Decayed  int           `json:"decayed"`
	Archived int           `json:"archived"`
	Expired  int           `json:"expired"`
	Deleted  int           `json:"deleted"`
	Merged   int           `json:"merged"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Engine runs governance over the units the manager owns.
type Engine struct {
	mgr    *syncmgr.Manager
	dedup  *dedup.Deduplicator
	cfg    Config
	logger zerolog.Logger
}

// NewEngine returns an engine. A nil deduplicator uses the zero value.
func NewEngine(mgr *syncmgr.Manager, d *dedup.Deduplicator, cfg Config) *Engine {
	cfg.applyDefaults()
	if d == nil {
		d = &dedup.Deduplicator{Now: cfg.Now}
	}
	return &Engine{
		mgr:    mgr,
		dedup:  d,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "governance").Logger(),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Reconcile runs the manager's reconciliation pass.
func (e *Engine) Reconcile(ctx context.Context) (syncmgr.ReconcileReport, error) {
	return e.mgr.Reconcile(ctx)
}

// Sweep merges duplicate content, recomputes salience, archives units that
// fell below the low-water mark, and expires and deletes units past their
// hard expiry. Per-unit failures are counted and logged; the sweep carries on.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	now := e.cfg.Now()
	ctx = tracing.WithSweepID(ctx, tracing.NewTraceID())
	ctx, span := tracing.StartSpan(ctx, tracerName, "governance.sweep")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	var report SweepReport
	units, err := adapter.Collect(e.mgr.Records(ctx, adapter.Query{
		Statuses: []memetic.Status{memetic.StatusActive, memetic.StatusArchived, memetic.StatusExpired},
	}))
	if err != nil {
		tracing.Fail(span, err)
		return report, fmt.Errorf("failed to scan units: %w", err)
	}
	report.Scanned = len(units)

	absorbed := e.mergeDuplicates(ctx, units, &report)

	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if absorbed[u.ID] {
			continue
		}
		if err := e.govern(ctx, u.ID, u.ContentHash, now, &report); err != nil {
			report.Errors++
			logger.Warn().Err(err).Str("unit_id", u.ID).Msg("Governance failed for unit")
		}
	}

	report.Duration = time.Since(start)
	observability.RecordSweep(report.Duration, report.Errors)
	span.SetAttributes(
		attribute.Int("scanned", report.Scanned),
		attribute.Int("archived", report.Archived),
		attribute.Int("deleted", report.Deleted),
		attribute.Int("merged", report.Merged),
	)
	logger.Info().
		Int("scanned", report.Scanned).
		Int("decayed", report.Decayed).
		Int("archived", report.Archived).
		Int("expired", report.Expired).
		Int("deleted", report.Deleted).
		Int("merged", report.Merged).
		Int("errors", report.Errors).
		Dur("duration", report.Duration).
		Msg("Governance sweep finished")
	return report, nil
}

// mergeDuplicates folds every group of live units sharing a content hash
// into its oldest member. It returns the ids that were absorbed.
func (e *Engine) mergeDuplicates(ctx context.Context, units []*memetic.Unit, report *SweepReport) map[string]bool {
	absorbed := make(map[string]bool)
	for _, group := range dedup.Groups(units) {
		hash := group[0].ContentHash
		gone, err := e.mergeGroup(ctx, hash, group)
		if err != nil {
			report.Errors++
			e.logger.Warn().Err(err).Str("content_hash", hash).Msg("Failed to merge duplicates")
			continue
		}
		for _, id := range gone {
			absorbed[id] = true
		}
		report.Merged += len(gone)
	}
	return absorbed
}

// mergeGroup re-reads the group under its content token and folds the
// members that are still live into the oldest one. It returns the ids of
// the absorbed units.
func (e *Engine) mergeGroup(ctx context.Context, hash string, group []*memetic.Unit) ([]string, error) {
	release, err := e.mgr.Acquire(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh := make([]*memetic.Unit, 0, len(group))
	for _, member := range group {
		u, err := e.mgr.Get(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		if u == nil || !u.Live() || u.ContentHash != hash {
			continue
		}
		fresh = append(fresh, u)
	}
	if len(fresh) < 2 {
		return nil, nil
	}

	survivor := fresh[0]
	var writes []*memetic.Unit
	for _, member := range fresh[1:] {
		var gone *memetic.Unit
		survivor, gone, err = e.dedup.Merge(survivor, member)
		if err != nil {
			return nil, err
		}
		writes = append(writes, gone)
	}
	if err := e.mgr.Write(ctx, append([]*memetic.Unit{survivor}, writes...)...); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(writes))
	for _, gone := range writes {
		observability.RecordTransition(string(memetic.StatusMerged))
		observability.RecordMergeAudit(ctx, "governance", survivor.ID, gone.ID)
		ids = append(ids, gone.ID)
	}
	return ids, nil
}

// govern applies decay, archival and expiry to one unit under its content
// token, re-reading it so a concurrent access is not lost.
func (e *Engine) govern(ctx context.Context, id, hash string, now time.Time, report *SweepReport) error {
	release, err := e.mgr.Acquire(ctx, hash)
	if err != nil {
		return err
	}
	defer release()

	u, err := e.mgr.Get(ctx, id)
	if err != nil || u == nil {
		return err
	}

	switch u.Status {
	case memetic.StatusExpired:
		return e.delete(ctx, u, report)

	case memetic.StatusActive, memetic.StatusArchived:
		if u.Expired(now) {
			from := u.Status
			if err := u.Transition(memetic.StatusExpired); err != nil {
				return err
			}
			u.UpdatedAt = now
			if err := e.mgr.Write(ctx, u); err != nil {
				return err
			}
			report.Expired++
			e.transitioned(ctx, u.ID, from, memetic.StatusExpired, "hard expiry passed")
			return e.delete(ctx, u, report)
		}
	}

	if u.Status != memetic.StatusActive {
		return nil
	}

	score := e.cfg.Policy.Salience(u, now)
	archive := score < e.cfg.LowWater && now.Sub(u.TimestampCreated) >= e.retention(u)
	if score == u.SalienceScore && !archive {
		return nil
	}
	if score != u.SalienceScore {
		u.SalienceScore = score
		report.Decayed++
	}
	if archive {
		if err := u.Transition(memetic.StatusArchived); err != nil {
			return err
		}
	}
	u.UpdatedAt = now
	if err := e.mgr.Write(ctx, u); err != nil {
		return err
	}
	if archive {
		report.Archived++
		e.transitioned(ctx, u.ID, memetic.StatusActive, memetic.StatusArchived, "salience below low-water mark")
	}
	return nil
}

func (e *Engine) delete(ctx context.Context, u *memetic.Unit, report *SweepReport) error {
	if err := e.mgr.Delete(ctx, u.ID); err != nil {
		return err
	}
	report.Deleted++
	e.transitioned(ctx, u.ID, memetic.StatusExpired, memetic.StatusDeleted, "expired unit removed")
	return nil
}

func (e *Engine) retention(u *memetic.Unit) time.Duration {
	return max(u.Lifespan.MinRetention, e.cfg.MinRetention)
}

func (e *Engine) transitioned(ctx context.Context, id string, from, to memetic.Status, reason string) {
	observability.RecordTransition(string(to))
	observability.RecordLifecycleAudit(ctx, id, string(from), string(to), reason)
}
