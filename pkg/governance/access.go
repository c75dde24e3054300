package governance

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/memetic"
)

// RecordAccess registers an access event on a unit. It stamps the access
// time, bumps the access count and boosts salience. An ARCHIVED unit
// accessed with importance at or above the reactivation threshold becomes
// ACTIVE again, starting just above the low-water mark. Accessing a MERGED
// unit touches its survivor.
func (e *Engine) RecordAccess(ctx context.Context, id string, importance float64) (*memetic.Unit, error) {
	if math.IsNaN(importance) || importance < 0 || importance > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImportance, importance)
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "governance.access",
		attribute.String("unit_id", id), attribute.Float64("importance", importance))
	defer span.End()

	target, err := e.mgr.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	release, err := e.mgr.Acquire(ctx, target.ContentHash)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the token; a sweep may have moved the unit.
	u, err := e.mgr.Get(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if u.Status != memetic.StatusActive && u.Status != memetic.StatusArchived {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotLive, u.ID, u.Status)
	}

	now := e.cfg.Now()
	current := e.cfg.Policy.Salience(u, now)
	u.AccessCount++
	u.TimestampAccessed = &now
	u.UpdatedAt = now

	reactivated := false
	switch {
	case u.Status == memetic.StatusActive:
		u.SalienceBase = clamp01(current + e.cfg.AccessBoost*(1+importance))
	case importance >= e.cfg.ReactivationThreshold:
		if err := u.Transition(memetic.StatusActive); err != nil {
			return nil, err
		}
		u.SalienceBase = clamp01(e.cfg.LowWater + e.cfg.ReactivationBoost*importance)
		reactivated = true
	default:
		// Stays archived; the access is still recorded.
		u.SalienceBase = current
	}
	u.SalienceScore = u.SalienceBase

	if err := e.mgr.Write(ctx, u); err != nil {
		return nil, err
	}
	if reactivated {
		e.transitioned(ctx, u.ID, memetic.StatusArchived, memetic.StatusActive, "reactivated by access")
	}
	return u.Clone(), nil
}
