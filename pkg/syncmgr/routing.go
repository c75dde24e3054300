package syncmgr

import (
	"fmt"
	"slices"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

// Route names the backends a cognitive type is written to and the one its
// reads prefer.
type Route struct {
	Backends []string
	Primary  string
}

// Routing is the declarative routing configuration. RecordStore owns every
// unit; a cognitive type without a route is written to the record store only.
type Routing struct {
	RecordStore string
	Routes      map[memetic.CognitiveType]Route
}

type resolvedRoute struct {
	// writes starts with the record store, followed by the route's backends
	// in configured order.
	writes []adapter.Adapter
	// reads starts with the primary, followed by the remaining writes.
	reads []adapter.Adapter
}

// table is Routing resolved against live adapters. It is built once and
// never mutated.
type table struct {
	record adapter.Adapter
	all    []adapter.Adapter
	// reads is the read order for a unit of unknown type: primaries other
	// than the record store, then the record store, then the rest.
	reads  []adapter.Adapter
	byName map[string]adapter.Adapter
	routes map[memetic.CognitiveType]resolvedRoute
}

func buildTable(r Routing, adapters []adapter.Adapter) (*table, error) {
	t := &table{
		byName: make(map[string]adapter.Adapter, len(adapters)),
		routes: make(map[memetic.CognitiveType]resolvedRoute, len(memetic.CognitiveTypes)),
	}
	for _, a := range adapters {
		if _, dup := t.byName[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate backend name %q", a.Name())
		}
		t.byName[a.Name()] = a
	}

	if r.RecordStore == "" {
		return nil, fmt.Errorf("routing: record store is required")
	}
	record, ok := t.byName[r.RecordStore]
	if !ok {
		return nil, fmt.Errorf("routing: record store %q: %w", r.RecordStore, ErrUnknownBackend)
	}
	t.record = record

	t.all = append(t.all, record)
	for _, a := range adapters {
		if a != record {
			t.all = append(t.all, a)
		}
	}

	for ct := range r.Routes {
		if !ct.Valid() {
			return nil, fmt.Errorf("routing: unknown cognitive type %q", ct)
		}
	}

	for _, ct := range memetic.CognitiveTypes {
		route := r.Routes[ct]
		writes := []adapter.Adapter{record}
		for _, name := range route.Backends {
			a, ok := t.byName[name]
			if !ok {
				return nil, fmt.Errorf("routing %s: backend %q: %w", ct, name, ErrUnknownBackend)
			}
			if !slices.Contains(writes, a) {
				writes = append(writes, a)
			}
		}

		primary := record
		if route.Primary != "" {
			a, ok := t.byName[route.Primary]
			if !ok || !slices.Contains(writes, a) {
				return nil, fmt.Errorf("routing %s: primary %q is not among its backends", ct, route.Primary)
			}
			primary = a
		}

		reads := []adapter.Adapter{primary}
		for _, a := range writes {
			if a != primary {
				reads = append(reads, a)
			}
		}
		t.routes[ct] = resolvedRoute{writes: writes, reads: reads}
		if primary != record && !slices.Contains(t.reads, primary) {
			t.reads = append(t.reads, primary)
		}
	}
	for _, a := range t.all {
		if !slices.Contains(t.reads, a) {
			t.reads = append(t.reads, a)
		}
	}
	return t, nil
}

func (t *table) route(ct memetic.CognitiveType) resolvedRoute {
	if r, ok := t.routes[ct]; ok {
		return r
	}
	return resolvedRoute{writes: []adapter.Adapter{t.record}, reads: []adapter.Adapter{t.record}}
}

// searchOrder returns the backends a query fans out to. A query restricted
// to cognitive types only visits backends those types are routed to, with
// primaries first.
func (t *table) searchOrder(q adapter.Query) []adapter.Adapter {
	if len(q.CognitiveTypes) == 0 {
		return t.all
	}
	var out []adapter.Adapter
	for _, ct := range q.CognitiveTypes {
		for _, a := range t.route(ct).reads {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}
