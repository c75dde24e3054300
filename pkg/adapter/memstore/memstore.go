// Package memstore is an in-process adapter backed by a map. It is the
// reference implementation of the adapter contract and supports injected
// faults for exercising rollback paths.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

// Op names used for fault injection.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpDelete = "delete"
	OpSearch = "search"
)

// Fault makes an operation fail. Remaining counts down on each trigger;
// a negative value fails forever and zero disables the fault.
type Fault struct {
	Err       error
	Delay     time.Duration
	Remaining int
}

// Store is a map-backed adapter.
type Store struct {
	name   string
	caps   adapter.Capabilities
	mu     sync.RWMutex
	units  map[string]*memetic.Unit
	faults map[string]*Fault
	calls  map[string]int
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithCapabilities overrides the default capabilities.
func WithCapabilities(caps adapter.Capabilities) Option {
	return func(s *Store) { s.caps = caps }
}

// New creates an empty store.
func New(name string, opts ...Option) *Store {
	s := &Store{
		name:   name,
		units:  make(map[string]*memetic.Unit),
		faults: make(map[string]*Fault),
		calls:  make(map[string]int),
		caps: adapter.Capabilities{
			Indexes: []adapter.Field{
				adapter.FieldID, adapter.FieldContentHash, adapter.FieldStatus,
				adapter.FieldCognitiveType, adapter.FieldKeywords, adapter.FieldVector,
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string                       { return s.name }
func (s *Store) Capabilities() adapter.Capabilities { return s.caps }

// InjectFault arranges for op to fail.
func (s *Store) InjectFault(op string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &f
}

// ClearFaults removes every injected fault.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*Fault)
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Len returns the number of stored units.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

func (s *Store) enter(ctx context.Context, op, id string) error {
	s.mu.Lock()
	s.calls[op]++
	closed := s.closed
	var fault Fault
	if f, ok := s.faults[op]; ok && f.Remaining != 0 {
		fault = *f
		if f.Remaining > 0 {
			f.Remaining--
		}
	}
	s.mu.Unlock()

	if closed {
		return adapter.Wrap(s.name, op, id, adapter.ErrClosed)
	}
	if fault.Delay > 0 {
		select {
		case <-time.After(fault.Delay):
		case <-ctx.Done():
			return adapter.Wrap(s.name, op, id, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return adapter.Wrap(s.name, op, id, err)
	}
	return adapter.Wrap(s.name, op, id, fault.Err)
}

func (s *Store) Put(ctx context.Context, u *memetic.Unit) error {
	if err := s.enter(ctx, OpPut, u.ID); err != nil {
		return err
	}
	if !s.caps.Accepts(u) {
		return adapter.Wrap(s.name, OpPut, u.ID, adapter.ErrRejected)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = u.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*memetic.Unit, error) {
	if err := s.enter(ctx, OpGet, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.units[id].Clone(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.enter(ctx, OpDelete, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, id)
	return nil
}

func (s *Store) Search(ctx context.Context, q adapter.Query) memetic.Seq {
	return adapter.FromSlice(func() ([]*memetic.Unit, error) {
		if err := s.enter(ctx, OpSearch, ""); err != nil {
			return nil, err
		}
		return s.search(q), nil
	})
}

type scored struct {
	unit  *memetic.Unit
	score float64
}

func (s *Store) search(q adapter.Query) []*memetic.Unit {
	s.mu.RLock()
	hits := make([]scored, 0, len(s.units))
	for _, u := range s.units {
		if !q.Matches(u) {
			continue
		}
		score := 0.0
		if len(q.Vector) > 0 {
			if len(u.SemanticVector) != len(q.Vector) {
				continue
			}
			score = adapter.Cosine(q.Vector, u.SemanticVector)
		}
		hits = append(hits, scored{unit: u.Clone(), score: score})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].unit.ID < hits[j].unit.ID
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]*memetic.Unit, len(hits))
	for i, h := range hits {
		out[i] = h.unit
	}
	return out
}

// CountByStatus implements adapter.StatusCounter.
func (s *Store) CountByStatus(ctx context.Context) (map[memetic.Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, adapter.Wrap(s.name, "count", "", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[memetic.Status]int)
	for _, u := range s.units {
		counts[u.Status]++
	}
	return counts, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.enter(ctx, "ping", "")
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
