package dedup

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/harun/memcore/pkg/memetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Stable(t *testing.T) {
	a, err := Hash(map[string]any{"b": 1, "a": []string{"x", "y"}})
	require.NoError(t, err)
	b, err := Hash(map[string]any{"a": []string{"x", "y"}, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order must not affect the hash")
	assert.Len(t, a, 64)

	raw, err := Hash(json.RawMessage(`{ "b": 1,  "a": ["x","y"] }`))
	require.NoError(t, err)
	assert.Equal(t, a, raw)
}

func TestHash_StringAndBytesAgree(t *testing.T) {
	s, err := Hash("hello")
	require.NoError(t, err)
	b, err := Hash([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, s, b)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", s)

	other, err := Hash("hello!")
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestHash_Unmarshalable(t *testing.T) {
	_, err := Hash(make(chan int))
	assert.Error(t, err)
}

func newUnit(id string, created time.Time, hash string) *memetic.Unit {
	return &memetic.Unit{
		ID:               id,
		TimestampCreated: created,
		ContentHash:      hash,
		Status:           memetic.StatusActive,
	}
}

func TestMerge(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := t0.Add(time.Hour)
	d := &Deduplicator{Now: func() time.Time { return now }}

	existing := newUnit("a", t0.Add(time.Minute), "h")
	existing.ConfidenceScore = 0.4
	existing.SalienceScore = 0.9
	existing.Links = []memetic.Link{{Target: "x", Type: "related_to"}}
	existing.AccessControl = map[string][]memetic.Operation{"system": {memetic.OpRead}}

	incoming := newUnit("b", t0, "h")
	incoming.ConfidenceScore = 0.8
	incoming.SalienceScore = 0.2
	incoming.Links = []memetic.Link{{Target: "x", Type: "related_to"}, {Target: "y", Type: "derives_from"}}
	incoming.AccessControl = map[string][]memetic.Operation{"system": {memetic.OpWrite}, "public": {memetic.OpRead}}

	survivor, absorbed, err := d.Merge(existing, incoming)
	require.NoError(t, err)

	assert.Equal(t, "a", survivor.ID)
	assert.Equal(t, t0, survivor.TimestampCreated)
	assert.Equal(t, 0.8, survivor.ConfidenceScore)
	assert.Equal(t, 0.9, survivor.SalienceScore)
	assert.Len(t, survivor.Links, 2)
	assert.ElementsMatch(t, []memetic.Operation{memetic.OpRead, memetic.OpWrite}, survivor.AccessControl["system"])
	assert.Equal(t, []memetic.Operation{memetic.OpRead}, survivor.AccessControl["public"])
	assert.Equal(t, []string{"b"}, survivor.Provenance)
	assert.Equal(t, now, survivor.UpdatedAt)

	assert.Equal(t, memetic.StatusMerged, absorbed.Status)
	assert.Equal(t, "a", absorbed.MergedInto)

	// inputs untouched
	assert.Equal(t, memetic.StatusActive, incoming.Status)
	assert.Empty(t, existing.Provenance)
}

func TestMerge_Errors(t *testing.T) {
	d := &Deduplicator{}
	t0 := time.Now()

	_, _, err := d.Merge(newUnit("a", t0, "h1"), newUnit("b", t0, "h2"))
	assert.ErrorIs(t, err, memetic.ErrHashMismatch)

	_, _, err = d.Merge(newUnit("a", t0, "h"), newUnit("a", t0, "h"))
	assert.Error(t, err)

	merged := newUnit("a", t0, "h")
	merged.Status = memetic.StatusMerged
	_, _, err = d.Merge(merged, newUnit("b", t0, "h"))
	assert.Error(t, err)
}

func TestAbsorb_NewUnitLeavesNoProvenance(t *testing.T) {
	d := &Deduplicator{}
	t0 := time.Now()
	existing := newUnit("a", t0, "h")
	existing.Status = memetic.StatusArchived
	incoming := newUnit("b", t0.Add(time.Second), "h")
	incoming.Status = memetic.StatusCreated

	survivor, err := d.Absorb(existing, incoming)
	require.NoError(t, err)
	assert.Empty(t, survivor.Provenance)
	assert.Equal(t, memetic.StatusActive, survivor.Status)
}

func TestMerge_Idempotent(t *testing.T) {
	d := &Deduplicator{}
	t0 := time.Now()
	a := newUnit("a", t0, "h")
	b := newUnit("b", t0.Add(time.Second), "h")

	once, _, err := d.Merge(a, b)
	require.NoError(t, err)
	twice, err := d.Absorb(once, b)
	require.NoError(t, err)

	assert.Equal(t, once.Provenance, twice.Provenance)
	assert.Equal(t, once.Links, twice.Links)
}

func TestGroups(t *testing.T) {
	t0 := time.Now()
	units := []*memetic.Unit{
		newUnit("c", t0.Add(2*time.Second), "h1"),
		newUnit("a", t0, "h1"),
		newUnit("b", t0, "h2"),
		newUnit("d", t0.Add(time.Second), "h1"),
	}
	merged := newUnit("e", t0, "h2")
	merged.Status = memetic.StatusMerged
	units = append(units, merged)

	groups := Groups(units)
	require.Len(t, groups, 1)
	ids := []string{groups[0][0].ID, groups[0][1].ID, groups[0][2].ID}
	assert.Equal(t, []string{"a", "d", "c"}, ids)
}
