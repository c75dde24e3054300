package syncmgr

import (
	"slices"

	"github.com/dgraph-io/ristretto"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

// typeHintCapacity bounds the id -> cognitive type index that lets a cold
// read go straight to the unit's primary.
const typeHintCapacity = 1 << 16

func newTypeHints() (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters:        typeHintCapacity * 10,
		MaxCost:            typeHintCapacity,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
}

func (m *Manager) rememberType(u *memetic.Unit) {
	if m.types.Set(u.ID, u.CognitiveType, 1) {
		m.types.Wait()
	}
}

func (m *Manager) forgetType(id string) {
	m.types.Del(id)
}

// readOrder is the backend order for reading id. With a known type the
// route's primary leads; otherwise every route's primary is tried before
// the store of record and the remaining secondaries.
func (m *Manager) readOrder(id string) []adapter.Adapter {
	v, ok := m.types.Get(id)
	ct, _ := v.(memetic.CognitiveType)
	if !ok || !ct.Valid() {
		return m.table.reads
	}
	out := slices.Clone(m.table.route(ct).reads)
	for _, a := range m.table.reads {
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}
