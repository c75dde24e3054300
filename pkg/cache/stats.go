package cache

// LayerStats is a snapshot of one layer's counters.
type LayerStats struct {
	Layer      int     `json:"layer"`
	Capacity   int     `json:"capacity"`
	Size       int     `json:"size"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Promotions uint64  `json:"promotions"`
	Evictions  uint64  `json:"evictions"`
	Demotions  uint64  `json:"demotions"`
	HitRatio   float64 `json:"hit_ratio"`
}

// Stats is a snapshot of cache counters over the cache lifetime. Hits and
// Misses count requests, not layer probes.
type Stats struct {
	Layers   []LayerStats `json:"layers"`
	Hits     uint64       `json:"hits"`
	Misses   uint64       `json:"misses"`
	Loads    uint64       `json:"loads"`
	HitRatio float64      `json:"hit_ratio"`
}

func ratio(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Stats returns per-layer and overall counters. Capacity-0 layers are
// reported with zero counters.
func (c *TieredCache) Stats() Stats {
	s := Stats{
		Layers: make([]LayerStats, len(c.layers)),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Loads:  c.loads.Load(),
	}
	s.HitRatio = ratio(s.Hits, s.Misses)

	for i, l := range c.layers {
		c.locks[i].Lock()
		s.Layers[i] = LayerStats{
			Layer:      i + 1,
			Capacity:   l.capacity,
			Size:       l.ll.Len(),
			Hits:       l.hits,
			Misses:     l.misses,
			Promotions: l.promotions,
			Evictions:  l.evictions,
			Demotions:  l.demotions,
			HitRatio:   ratio(l.hits, l.misses),
		}
		c.locks[i].Unlock()
	}
	return s
}
