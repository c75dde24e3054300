package governance

import (
	"math"
	"time"

	"github.com/harun/memcore/pkg/memetic"
)

// Policy holds the decay parameters.
type Policy struct {
	// Period is the length of one decay step.
	Period time.Duration
	// Rate is the per-period decay used when a unit's lifespan policy has none.
	Rate float64
	// FrequencyWeight slows decay with ln(1+access_count).
	FrequencyWeight float64
	// LinkWeight slows decay with the number of links.
	LinkWeight float64
}

// EffectiveRate is the per-period decay rate of u after access-frequency and
// link-count damping.
func (p Policy) EffectiveRate(u *memetic.Unit) float64 {
	rate := u.Lifespan.DecayRate
	if rate <= 0 {
		rate = p.Rate
	}
	damping := (1 + p.FrequencyWeight*math.Log1p(float64(max(u.AccessCount, 0)))) *
		(1 + p.LinkWeight*float64(len(u.Links)))
	return clamp01(rate / damping)
}

// Salience returns u's salience at now:
//
//	base * (1 - rate)^periods
//
// where periods counts whole decay periods since the unit's anchor. It
// reads only stored fields, so equal inputs give equal scores.
func (p Policy) Salience(u *memetic.Unit, now time.Time) float64 {
	base := u.SalienceBase
	if base == 0 {
		base = u.SalienceScore
	}
	elapsed := now.Sub(u.Anchor())
	if p.Period <= 0 || elapsed < p.Period {
		return clamp01(base)
	}
	periods := math.Floor(float64(elapsed) / float64(p.Period))
	return clamp01(base * math.Pow(1-p.EffectiveRate(u), periods))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
