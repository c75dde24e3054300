package cache

import (
	"container/list"

	"github.com/harun/memcore/pkg/memetic"
)

type entry struct {
	id   string
	unit *memetic.Unit
}

// layer is one LRU tier. All fields are guarded by the owning cache's
// per-layer mutex.
type layer struct {
	index    int
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	stale    map[string]struct{}

	hits       uint64
	misses     uint64
	promotions uint64
	evictions  uint64
	demotions  uint64
}

func newLayer(index, capacity int) *layer {
	return &layer{
		index:    index,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		stale:    make(map[string]struct{}),
	}
}

// get returns the entry for id and marks it most recently used. A stale
// copy is dropped and reported as absent.
func (l *layer) get(id string) (*memetic.Unit, bool) {
	el, ok := l.items[id]
	if !ok {
		return nil, false
	}
	if _, stale := l.stale[id]; stale {
		l.remove(id)
		return nil, false
	}
	l.ll.MoveToFront(el)
	return el.Value.(*entry).unit, true
}

func (l *layer) contains(id string) bool {
	_, ok := l.items[id]
	return ok
}

// set stores u as most recently used and returns the entry evicted to make
// room, if any.
func (l *layer) set(id string, u *memetic.Unit) (evicted *entry) {
	delete(l.stale, id)
	if el, ok := l.items[id]; ok {
		el.Value.(*entry).unit = u
		l.ll.MoveToFront(el)
		return nil
	}
	if l.ll.Len() >= l.capacity {
		evicted = l.evictOldest()
	}
	l.items[id] = l.ll.PushFront(&entry{id: id, unit: u})
	return evicted
}

func (l *layer) evictOldest() *entry {
	el := l.ll.Back()
	if el == nil {
		return nil
	}
	e := el.Value.(*entry)
	l.ll.Remove(el)
	delete(l.items, e.id)
	l.evictions++
	if _, stale := l.stale[e.id]; stale {
		delete(l.stale, e.id)
		return nil
	}
	return e
}

func (l *layer) remove(id string) {
	if el, ok := l.items[id]; ok {
		l.ll.Remove(el)
		delete(l.items, id)
	}
	delete(l.stale, id)
}

func (l *layer) markStale(id string) {
	if l.contains(id) {
		l.stale[id] = struct{}{}
	}
}

// keys returns ids from most to least recently used.
func (l *layer) keys() []string {
	ids := make([]string, 0, l.ll.Len())
	for el := l.ll.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*entry).id)
	}
	return ids
}
