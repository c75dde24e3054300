package governance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harun/memcore/pkg/memetic"
)

var testPolicy = Policy{Period: time.Hour, Rate: 0.1, FrequencyWeight: 0.5, LinkWeight: 0.1}

func decayUnit(created time.Time) *memetic.Unit {
	return &memetic.Unit{
		ID:               memetic.NewID(created),
		Status:           memetic.StatusActive,
		TimestampCreated: created,
		SalienceBase:     0.8,
		SalienceScore:    0.8,
	}
}

func TestSalienceWholePeriods(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := decayUnit(t0)

	assert.Equal(t, 0.8, testPolicy.Salience(u, t0))
	assert.Equal(t, 0.8, testPolicy.Salience(u, t0.Add(59*time.Minute)), "partial periods do not decay")
	assert.InDelta(t, 0.8*0.9, testPolicy.Salience(u, t0.Add(time.Hour)), 1e-12)
	assert.InDelta(t, 0.8*math.Pow(0.9, 3), testPolicy.Salience(u, t0.Add(3*time.Hour+30*time.Minute)), 1e-12)
}

func TestSalienceMonotonicInTime(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := decayUnit(t0)

	prev := testPolicy.Salience(u, t0)
	for h := 1; h <= 200; h++ {
		s := testPolicy.Salience(u, t0.Add(time.Duration(h)*time.Hour))
		assert.LessOrEqual(t, s, prev)
		assert.GreaterOrEqual(t, s, 0.0)
		prev = s
	}
}

func TestSalienceAccessesAndLinksSlowDecay(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := t0.Add(48 * time.Hour)

	plain := decayUnit(t0)
	accessed := decayUnit(t0)
	accessed.AccessCount = 10
	linked := decayUnit(t0)
	linked.Links = []memetic.Link{{Target: "a"}, {Target: "b"}, {Target: "c"}}

	base := testPolicy.Salience(plain, later)
	assert.Greater(t, testPolicy.Salience(accessed, later), base)
	assert.Greater(t, testPolicy.Salience(linked, later), base)
}

func TestSalienceAnchorsOnLastAccess(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := decayUnit(t0)
	accessed := t0.Add(10 * time.Hour)
	u.TimestampAccessed = &accessed

	assert.Equal(t, 0.8, testPolicy.Salience(u, t0.Add(10*time.Hour+30*time.Minute)))
}

func TestEffectiveRateUsesUnitPolicy(t *testing.T) {
	u := decayUnit(time.Now())
	assert.InDelta(t, 0.1, testPolicy.EffectiveRate(u), 1e-12)

	u.Lifespan.DecayRate = 0.4
	assert.InDelta(t, 0.4, testPolicy.EffectiveRate(u), 1e-12)
}
