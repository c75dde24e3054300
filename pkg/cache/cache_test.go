package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memcore/pkg/memetic"
)

func unit(id string) *memetic.Unit {
	return &memetic.Unit{ID: id, Status: memetic.StatusActive, Keywords: []string{id}}
}

// backend is a counting loader over a fixed map.
type backend struct {
	mu    sync.Mutex
	units map[string]*memetic.Unit
	calls int
}

func newBackend(ids ...string) *backend {
	b := &backend{units: make(map[string]*memetic.Unit)}
	for _, id := range ids {
		b.units[id] = unit(id)
	}
	return b
}

func (b *backend) load(_ context.Context, id string) (*memetic.Unit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.units[id].Clone(), nil
}

func TestNew_NegativeCapacity(t *testing.T) {
	_, err := New([]int{4, -1})
	var iv *InvariantViolation
	require.ErrorAs(t, err, &iv)
	assert.Equal(t, 2, iv.Layer)
	assert.Equal(t, -1, iv.Capacity)
}

func TestGet_HitRatio(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{4})
	require.NoError(t, err)
	b := newBackend("a")

	for i := 0; i < 3; i++ {
		u, err := c.Get(ctx, "a", b.load)
		require.NoError(t, err)
		require.NotNil(t, u)
	}

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRatio, 1e-9)
	assert.InDelta(t, 2.0/3.0, stats.Layers[0].HitRatio, 1e-9)
	assert.Equal(t, 1, b.calls)
}

func TestGet_MissingUnit(t *testing.T) {
	c, err := New([]int{2})
	require.NoError(t, err)

	u, err := c.Get(context.Background(), "nope", newBackend().load)
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Empty(t, c.Keys(1), "absent units are not cached")

	u, err = c.Get(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestGet_LoaderError(t *testing.T) {
	c, err := New([]int{2})
	require.NoError(t, err)
	boom := errors.New("backend down")

	_, err = c.Get(context.Background(), "a", func(context.Context, string) (*memetic.Unit, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{2})
	require.NoError(t, err)
	b := newBackend("a", "b", "c")

	_, _ = c.Get(ctx, "a", b.load)
	_, _ = c.Get(ctx, "b", b.load)
	_, _ = c.Get(ctx, "a", b.load) // a is now most recent
	_, _ = c.Get(ctx, "c", b.load) // evicts b

	assert.Equal(t, []string{"c", "a"}, c.Keys(1))
	assert.Equal(t, uint64(1), c.Stats().Layers[0].Evictions)
}

func TestDemotionAndPromotion(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{1, 2})
	require.NoError(t, err)
	b := newBackend("a", "b")

	_, _ = c.Get(ctx, "a", b.load)
	_, _ = c.Get(ctx, "b", b.load) // a demoted to layer 2

	assert.Equal(t, []string{"b"}, c.Keys(1))
	assert.Equal(t, []string{"a"}, c.Keys(2))

	u, err := c.Get(ctx, "a", b.load)
	require.NoError(t, err)
	assert.Equal(t, "a", u.ID)
	assert.Equal(t, 2, b.calls, "layer-2 hit must not reach the backend")

	assert.Equal(t, []string{"a"}, c.Keys(1))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys(2), "promotion copies; b was demoted by the promotion")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Layers[1].Hits)
	assert.Equal(t, uint64(1), stats.Layers[1].Promotions)
	assert.Equal(t, uint64(3), stats.Layers[0].Misses)
	assert.Equal(t, uint64(2), stats.Layers[0].Demotions)
}

func TestDemotion_DropsAfterLastLayer(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{1, 1})
	require.NoError(t, err)
	b := newBackend("a", "b", "c")

	for _, id := range []string{"a", "b", "c"} {
		_, _ = c.Get(ctx, id, b.load)
	}

	assert.Equal(t, []string{"c"}, c.Keys(1))
	assert.Equal(t, []string{"b"}, c.Keys(2))
	assert.Equal(t, uint64(1), c.Stats().Layers[1].Evictions)
}

func TestZeroCapacityLayerIsSkipped(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{0, 2})
	require.NoError(t, err)
	b := newBackend("a")

	_, _ = c.Get(ctx, "a", b.load)
	_, _ = c.Get(ctx, "a", b.load)

	stats := c.Stats()
	require.Len(t, stats.Layers, 2)
	assert.Equal(t, LayerStats{Layer: 1}, stats.Layers[0])
	assert.Equal(t, uint64(1), stats.Layers[1].Hits)
	assert.Equal(t, []string{"a"}, c.Keys(2))
}

func TestAllZeroCapacityPassesThrough(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{0})
	require.NoError(t, err)
	b := newBackend("a")

	_, _ = c.Get(ctx, "a", b.load)
	_, _ = c.Get(ctx, "a", b.load)
	c.Put(unit("a"))

	assert.Equal(t, 2, b.calls)
	assert.Equal(t, uint64(2), c.Stats().Misses)
}

func TestPut_MarksLowerCopiesStale(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{1, 2})
	require.NoError(t, err)
	b := newBackend("a", "b")

	_, _ = c.Get(ctx, "a", b.load)
	_, _ = c.Get(ctx, "b", b.load) // a in layer 2

	updated := unit("a")
	updated.Keywords = []string{"fresh"}
	c.Put(updated) // b demoted, a written to layer 1, old a in layer 2 stale
	c.Put(unit("b"))  // a demoted from layer 1 replaces the stale copy

	got, err := c.Get(ctx, "a", b.load)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, got.Keywords)
}

func TestInvalidate_LazyDiscard(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{1, 2})
	require.NoError(t, err)
	b := newBackend("a", "b")

	_, _ = c.Get(ctx, "a", b.load)
	_, _ = c.Get(ctx, "b", b.load) // a in layer 2
	c.Invalidate("a")

	assert.Contains(t, c.Keys(2), "a", "stale copy stays until read")

	b.units["a"].Keywords = []string{"reloaded"}
	got, err := c.Get(ctx, "a", b.load)
	require.NoError(t, err)
	assert.Equal(t, []string{"reloaded"}, got.Keywords)
	assert.Equal(t, 3, b.calls)
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c, err := New([]int{2})
	require.NoError(t, err)

	u := unit("a")
	c.Put(u)
	u.Keywords[0] = "mutated"

	got, err := c.Get(ctx, "a", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Keywords[0])

	got.Keywords[0] = "mutated again"
	again, _ := c.Get(ctx, "a", nil)
	assert.Equal(t, "a", again.Keywords[0])
}

func TestConcurrentMissesCollapse(t *testing.T) {
	c, err := New([]int{8})
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context, string) (*memetic.Unit, error) {
		calls.Add(1)
		<-release
		return unit("a"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := c.Get(context.Background(), "a", load)
			assert.NoError(t, err)
			assert.Equal(t, "a", u.ID)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"a"}, c.Keys(1))
}

func TestConcurrentAccessKeepsCapacity(t *testing.T) {
	c, err := New([]int{4, 8})
	require.NoError(t, err)
	ctx := context.Background()
	load := func(_ context.Context, id string) (*memetic.Unit, error) { return unit(id), nil }

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("u%d", (i*7+g)%32)
				if i%5 == 0 {
					c.Put(unit(id))
					continue
				}
				if i%11 == 0 {
					c.Invalidate(id)
					continue
				}
				_, err := c.Get(ctx, id, load)
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Layers[0].Size, 4)
	assert.LessOrEqual(t, stats.Layers[1].Size, 8)
}
