package governance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/adapter/memstore"
	"github.com/harun/memcore/pkg/dedup"
	"github.com/harun/memcore/pkg/memetic"
	"github.com/harun/memcore/pkg/syncmgr"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *Engine
	mgr    *syncmgr.Manager
	store  *memstore.Store
	clock  *clock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := memstore.New("records")
	mgr, err := syncmgr.New(syncmgr.Config{
		Routing:  syncmgr.Routing{RecordStore: "records"},
		Adapters: []adapter.Adapter{store},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	cfg.Now = c.Now
	cfg.Logger = zerolog.Nop()
	if cfg.Policy.Period == 0 {
		cfg.Policy = Policy{Period: time.Hour, Rate: 0.5}
	}
	return &harness{
		engine: NewEngine(mgr, &dedup.Deduplicator{Now: c.Now}, cfg),
		mgr:    mgr,
		store:  store,
		clock:  c,
	}
}

func (h *harness) unit(t *testing.T, payload string) *memetic.Unit {
	t.Helper()
	hash, err := dedup.Hash(payload)
	require.NoError(t, err)
	u := memetic.NewUnit(memetic.Draft{
		Source:      memetic.SourceDocumentation,
		Payload:     payload,
		ContentHash: hash,
	}, h.clock.Now(), zerolog.Nop())
	require.NoError(t, u.Transition(memetic.StatusActive))
	return u
}

func (h *harness) stored(t *testing.T, id string) *memetic.Unit {
	t.Helper()
	u, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestSweepArchivesFadedUnits(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	faded := h.unit(t, "old build log")
	require.NoError(t, h.mgr.Write(ctx, faded))

	h.clock.Advance(10 * time.Hour)
	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Decayed)
	assert.Equal(t, 1, report.Archived)
	got := h.stored(t, faded.ID)
	assert.Equal(t, memetic.StatusArchived, got.Status)
	assert.Less(t, got.SalienceScore, DefaultLowWater)
}

func TestSweepIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	a := h.unit(t, "keep decaying")
	b := h.unit(t, "fades away")
	b.Lifespan.DecayRate = 0.9
	require.NoError(t, h.mgr.Write(ctx, a, b))

	h.clock.Advance(2 * time.Hour)
	_, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	firstA, firstB := h.stored(t, a.ID), h.stored(t, b.ID)
	puts := h.store.Calls(memstore.OpPut)

	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Scanned: 2, Duration: report.Duration}, report)
	assert.Equal(t, puts, h.store.Calls(memstore.OpPut), "second sweep writes nothing")
	assert.Equal(t, firstA, h.stored(t, a.ID))
	assert.Equal(t, firstB, h.stored(t, b.ID))
}

func TestSweepRespectsMinimumRetention(t *testing.T) {
	h := newHarness(t, Config{MinRetention: 48 * time.Hour})
	ctx := context.Background()
	u := h.unit(t, "young but faded")
	require.NoError(t, h.mgr.Write(ctx, u))

	h.clock.Advance(10 * time.Hour)
	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Archived)
	assert.Equal(t, memetic.StatusActive, h.stored(t, u.ID).Status)

	h.clock.Advance(48 * time.Hour)
	report, err = h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)
}

func TestSweepExpiresAndDeletes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	u := h.unit(t, "temporary credentials note")
	expiry := h.clock.Now().Add(30 * time.Minute)
	u.Lifespan.HardExpiry = &expiry
	keep := h.unit(t, "durable")
	require.NoError(t, h.mgr.Write(ctx, u, keep))

	h.clock.Advance(time.Hour)
	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Deleted)
	assert.Nil(t, h.stored(t, u.ID))
	assert.NotNil(t, h.stored(t, keep.ID))
	assert.Equal(t, uint64(1), h.mgr.Stats().Deleted)
}

func TestSweepRetriesDeleteOfExpiredUnits(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	u := h.unit(t, "expired earlier")
	require.NoError(t, u.Transition(memetic.StatusExpired))
	require.NoError(t, h.mgr.Write(ctx, u))

	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 0, h.store.Len())
}

func TestSweepMergesDuplicates(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	older := h.unit(t, "duplicated fact")
	h.clock.Advance(time.Minute)
	newer := h.unit(t, "duplicated fact")
	newer.AddLink(memetic.Link{Target: "01HZZZZZZZZZZZZZZZZZZZZZZZ", Type: memetic.LinkRelatedTo})
	require.NoError(t, h.mgr.Write(ctx, older, newer))

	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)

	survivor := h.stored(t, older.ID)
	assert.Equal(t, memetic.StatusActive, survivor.Status)
	assert.Contains(t, survivor.Provenance, newer.ID)
	assert.Len(t, survivor.Links, 1)

	absorbed := h.stored(t, newer.ID)
	assert.Equal(t, memetic.StatusMerged, absorbed.Status)
	assert.Equal(t, older.ID, absorbed.MergedInto)

	report, err = h.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Merged)
}

func TestMergeKeepsAccessAfterScan(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	older := h.unit(t, "scanned fact")
	h.clock.Advance(time.Minute)
	newer := h.unit(t, "scanned fact")
	require.NoError(t, h.mgr.Write(ctx, older, newer))
	snapshot := []*memetic.Unit{older.Clone(), newer.Clone()}

	_, err := h.engine.RecordAccess(ctx, older.ID, 0.5)
	require.NoError(t, err)

	var report SweepReport
	absorbed := h.engine.mergeDuplicates(ctx, snapshot, &report)
	assert.Equal(t, map[string]bool{newer.ID: true}, absorbed)
	assert.Equal(t, 1, report.Merged)

	survivor := h.stored(t, older.ID)
	assert.Equal(t, 1, survivor.AccessCount)
	assert.NotNil(t, survivor.TimestampAccessed)
	assert.Contains(t, survivor.Provenance, newer.ID)
}

func TestMergeSkipsMembersGoneSinceScan(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	older := h.unit(t, "short lived fact")
	h.clock.Advance(time.Minute)
	newer := h.unit(t, "short lived fact")
	require.NoError(t, h.mgr.Write(ctx, older, newer))
	snapshot := []*memetic.Unit{older.Clone(), newer.Clone()}

	require.NoError(t, h.mgr.Delete(ctx, newer.ID))

	var report SweepReport
	absorbed := h.engine.mergeDuplicates(ctx, snapshot, &report)
	assert.Empty(t, absorbed)
	assert.Equal(t, 0, report.Merged)
	assert.Equal(t, 0, report.Errors)
	assert.Empty(t, h.stored(t, older.ID).Provenance)
}

func TestConcurrentSweepsAgree(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	for _, p := range []string{"alpha", "beta", "gamma", "delta"} {
		require.NoError(t, h.mgr.Write(ctx, h.unit(t, p)))
	}
	h.clock.Advance(10 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Sweep(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counts, err := h.mgr.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[memetic.StatusArchived])
}
