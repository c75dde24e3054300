package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/dedup"
	"github.com/harun/memcore/pkg/memetic"
)

// Search fans the query out to every backend that can serve it and merges
// the answers. When two backends return the same unit, the most recently
// updated copy wins. Backends that do not support the query are skipped;
// a failing backend is degraded and the search fails only when none
// answered.
func (m *Manager) Search(ctx context.Context, q adapter.Query) memetic.Seq {
	return adapter.FromSlice(func() ([]*memetic.Unit, error) {
		return m.search(ctx, q)
	})
}

func (m *Manager) search(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "syncmgr.search")
	defer span.End()

	key, cacheable := m.queryKey(q)
	if cacheable {
		if units, ok := m.cachedQuery(key); ok {
			return units, nil
		}
	}

	backends := m.table.searchOrder(q)
	results := make([][]*memetic.Unit, len(backends))
	errs := make([]error, len(backends))

	var g errgroup.Group
	for i, a := range backends {
		g.Go(func() error {
			results[i], errs[i] = m.searchIn(ctx, a, q)
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	answered := 0
	for i, err := range errs {
		switch {
		case err == nil:
			answered++
		case errors.Is(err, adapter.ErrNotSupported):
		default:
			m.degrade(backends[i], err)
			failures = append(failures, err)
		}
	}
	if answered == 0 {
		if len(failures) == 0 {
			return nil, fmt.Errorf("no backend can serve the query: %w", adapter.ErrNotSupported)
		}
		err := errors.Join(failures...)
		tracing.Fail(span, err)
		return nil, err
	}
	if len(failures) > 0 {
		m.logger.Warn().Err(errors.Join(failures...)).Int("answered", answered).Msg("Search served with degraded backends")
	}

	merged := mergeResults(q, results)
	if cacheable && len(failures) == 0 {
		m.storeQuery(key, merged)
	}
	return merged, nil
}

func mergeResults(q adapter.Query, results [][]*memetic.Unit) []*memetic.Unit {
	index := make(map[string]int)
	var out []*memetic.Unit
	for _, units := range results {
		for _, u := range units {
			if i, ok := index[u.ID]; ok {
				if u.UpdatedAt.After(out[i].UpdatedAt) {
					out[i] = u
				}
				continue
			}
			index[u.ID] = len(out)
			out = append(out, u)
		}
	}

	// A backend may have answered from a copy whose status has since moved on.
	filtered := out[:0]
	for _, u := range out {
		if q.Matches(u) {
			filtered = append(filtered, u)
		}
	}
	out = filtered

	if len(q.Vector) > 0 {
		scores := make(map[string]float64, len(out))
		for _, u := range out {
			if len(u.SemanticVector) == len(q.Vector) {
				scores[u.ID] = adapter.Cosine(q.Vector, u.SemanticVector)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return scores[out[i].ID] > scores[out[j].ID] })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// queryKey scopes the key to the current write generation, so a result
// stored by a search that raced with a write is never served.
func (m *Manager) queryKey(q adapter.Query) (string, bool) {
	if m.queries == nil {
		return "", false
	}
	h, err := dedup.Hash(q)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%d:%s", m.queryGen.Load(), h), true
}

func (m *Manager) cachedQuery(key string) ([]*memetic.Unit, bool) {
	v, ok := m.queries.Get(key)
	if !ok {
		return nil, false
	}
	units, ok := v.([]*memetic.Unit)
	if !ok {
		return nil, false
	}
	return cloneAll(units), true
}

func (m *Manager) storeQuery(key string, units []*memetic.Unit) {
	m.queries.SetWithTTL(key, cloneAll(units), int64(len(units))+1, 10*time.Minute)
}

func (m *Manager) invalidateQueries() {
	if m.queries == nil {
		return
	}
	m.queryGen.Add(1)
	m.queries.Clear()
}

func cloneAll(units []*memetic.Unit) []*memetic.Unit {
	out := make([]*memetic.Unit, len(units))
	for i, u := range units {
		out[i] = u.Clone()
	}
	return out
}
