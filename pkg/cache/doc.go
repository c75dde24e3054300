// Package cache implements the tiered in-process unit cache.
//
// Invariants:
// - Each layer is a strict LRU bounded by its capacity; a capacity-0 layer is skipped.
// - An entry evicted from layer k is demoted into layer k+1 and dropped after the last layer.
// - A hit below layer 1 copies the value into layer 1; the lower copy stays.
// - Writes go to layer 1 and mark lower copies stale; stale copies are discarded on read.
// - Values are cloned on the way in and out.
//
// Usage:
//
//	c, _ := cache.New([]int{128, 1024})
//	u, err := c.Get(ctx, id, func(ctx context.Context, id string) (*memetic.Unit, error) {
//		return store.Get(ctx, id)
//	})
//	fmt.Println(c.Stats().HitRatio)
package cache
