package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/pkg/memetic"
)

// Loader fetches a unit from the backends on a full miss. It returns
// (nil, nil) when the unit does not exist.
type Loader func(ctx context.Context, id string) (*memetic.Unit, error)

// TieredCache is an ordered stack of LRU layers, fastest first.
type TieredCache struct {
	layers []*layer
	locks  []sync.Mutex
	active []int // indexes of layers with capacity > 0

	group  singleflight.Group
	writes atomic.Uint64 // bumped under layer-1 lock by Put and Invalidate

	hits   atomic.Uint64
	misses atomic.Uint64
	loads  atomic.Uint64

	logger zerolog.Logger
}

// Option configures a TieredCache.
type Option func(*TieredCache)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *TieredCache) { c.logger = logger }
}

// New builds a cache with one layer per capacity. A negative capacity is an
// InvariantViolation.
func New(capacities []int, opts ...Option) (*TieredCache, error) {
	c := &TieredCache{
		layers: make([]*layer, len(capacities)),
		locks:  make([]sync.Mutex, len(capacities)),
		logger: zerolog.Nop(),
	}
	for i, capacity := range capacities {
		if capacity < 0 {
			return nil, &InvariantViolation{Layer: i + 1, Capacity: capacity}
		}
		c.layers[i] = newLayer(i, capacity)
		if capacity > 0 {
			c.active = append(c.active, i)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	observability.EnsureRegistered()
	return c, nil
}

func layerName(i int) string {
	return fmt.Sprintf("l%d", i+1)
}

// Get returns the unit for id, consulting layers in order and then load.
// A nil load turns a full miss into (nil, nil).
func (c *TieredCache) Get(ctx context.Context, id string, load Loader) (*memetic.Unit, error) {
	if u, ok := c.lookup(id); ok {
		c.hits.Add(1)
		return u, nil
	}
	c.misses.Add(1)
	if load == nil {
		return nil, nil
	}

	gen := c.writes.Load()
	v, err, _ := c.group.Do(id, func() (any, error) {
		c.loads.Add(1)
		return load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	u, _ := v.(*memetic.Unit)
	if u == nil {
		return nil, nil
	}
	c.fill(id, u.Clone(), gen)
	return u.Clone(), nil
}

// Peek returns a cached copy without touching recency, stats or the loader.
func (c *TieredCache) Peek(id string) (*memetic.Unit, bool) {
	for _, i := range c.active {
		c.locks[i].Lock()
		l := c.layers[i]
		var u *memetic.Unit
		el, ok := l.items[id]
		if ok {
			if _, stale := l.stale[id]; !stale {
				u = el.Value.(*entry).unit.Clone()
			}
		}
		c.locks[i].Unlock()
		if u != nil {
			return u, true
		}
	}
	return nil, false
}

func (c *TieredCache) lookup(id string) (*memetic.Unit, bool) {
	gen := c.writes.Load()
	for pos, i := range c.active {
		c.locks[i].Lock()
		l := c.layers[i]
		u, ok := l.get(id)
		if !ok {
			l.misses++
			c.locks[i].Unlock()
			observability.RecordCacheLookup(layerName(i), false)
			continue
		}
		l.hits++
		if pos > 0 {
			l.promotions++
		}
		out := u.Clone()
		c.locks[i].Unlock()
		observability.RecordCacheLookup(layerName(i), true)

		if pos > 0 {
			c.fill(id, u.Clone(), gen)
		}
		return out, true
	}
	return nil, false
}

// fill copies u into the top layer unless a write or invalidation happened
// since gen, or the top layer already holds id.
func (c *TieredCache) fill(id string, u *memetic.Unit, gen uint64) {
	if len(c.active) == 0 {
		return
	}
	top := c.active[0]
	c.locks[top].Lock()
	defer c.locks[top].Unlock()

	if c.writes.Load() != gen || c.layers[top].contains(id) {
		return
	}
	c.insertLocked(0, id, u)
}

// insertLocked stores u at active position pos and cascades evictions
// downward. The caller holds the lock of layer active[pos]; lower layer
// locks are taken in order.
func (c *TieredCache) insertLocked(pos int, id string, u *memetic.Unit) {
	i := c.active[pos]
	evicted := c.layers[i].set(id, u)
	for evicted != nil {
		observability.RecordCacheEviction(layerName(i), pos+1 < len(c.active))
		if pos+1 >= len(c.active) {
			c.logger.Debug().Str("unit_id", evicted.id).Msg("Dropped unit from last cache layer")
			return
		}
		c.layers[i].demotions++
		pos++
		i = c.active[pos]
		c.locks[i].Lock()
		evicted = c.layers[i].set(evicted.id, evicted.unit)
		defer c.locks[i].Unlock()
	}
}

// Put writes u into layer 1 and marks lower copies stale.
func (c *TieredCache) Put(u *memetic.Unit) {
	if len(c.active) == 0 || u == nil {
		return
	}
	top := c.active[0]
	c.locks[top].Lock()
	defer c.locks[top].Unlock()

	c.writes.Add(1)
	c.group.Forget(u.ID)
	c.insertLocked(0, u.ID, u.Clone())
	c.markStaleBelow(u.ID)
}

// Invalidate drops id from layer 1 and marks lower copies stale.
func (c *TieredCache) Invalidate(id string) {
	if len(c.active) == 0 {
		return
	}
	top := c.active[0]
	c.locks[top].Lock()
	defer c.locks[top].Unlock()

	c.writes.Add(1)
	c.group.Forget(id)
	c.layers[top].remove(id)
	c.markStaleBelow(id)
}

// markStaleBelow requires the top layer lock.
func (c *TieredCache) markStaleBelow(id string) {
	for _, i := range c.active[1:] {
		c.locks[i].Lock()
		c.layers[i].markStale(id)
		c.locks[i].Unlock()
	}
}

// Reset empties every layer. Statistics are kept.
func (c *TieredCache) Reset() {
	if len(c.active) > 0 {
		c.writes.Add(1)
	}
	for _, i := range c.active {
		c.locks[i].Lock()
		l := c.layers[i]
		l.ll.Init()
		l.items = make(map[string]*list.Element, l.capacity)
		l.stale = make(map[string]struct{})
		c.locks[i].Unlock()
	}
}

// Keys returns the ids held by layer n (1-based), most recent first.
func (c *TieredCache) Keys(n int) []string {
	if n < 1 || n > len(c.layers) {
		return nil
	}
	c.locks[n-1].Lock()
	defer c.locks[n-1].Unlock()
	return c.layers[n-1].keys()
}
