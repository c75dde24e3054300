package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/cache"
	"github.com/harun/memcore/pkg/dedup"
	"github.com/harun/memcore/pkg/memetic"
)

const tracerName = "memcore.syncmgr"

const (
	DefaultAdapterTimeout  = 5 * time.Second
	DefaultRedirectDepth   = 8
	DefaultConflictLogSize = 100
	defaultCacheCapacity   = 1024
)

// BackendStatus is the health of a backend as observed by the manager.
type BackendStatus string

const (
	BackendAvailable BackendStatus = "AVAILABLE"
	BackendDegraded  BackendStatus = "DEGRADED"
)

// Config configures a Manager.
type Config struct {
	Routing  Routing
	Adapters []adapter.Adapter
	Cache    *cache.TieredCache
	Dedup    *dedup.Deduplicator

	// AdapterTimeout bounds every adapter call, compensations included.
	AdapterTimeout time.Duration
	// QueryCacheMaxCost sizes the search-result cache in result units.
	// Zero disables it.
	QueryCacheMaxCost int64
	RedirectDepth     int
	ConflictLogSize   int

	Logger zerolog.Logger
}

// Stats are cumulative counters since construction.
type Stats struct {
	Committed    uint64                   `json:"committed"`
	Aborted      uint64                   `json:"aborted"`
	Partial      uint64                   `json:"partial"`
	Merged       uint64                   `json:"merged"`
	Races        uint64                   `json:"duplicate_races"`
	Deleted      uint64                   `json:"deleted"`
	Reconciled   uint64                   `json:"reconciled"`
	Synchronized uint64                   `json:"synchronized"`
	Conflicts    uint64                   `json:"conflicts"`
	Pending      int                      `json:"pending_reconciliation"`
	Backends     map[string]BackendStatus `json:"backends"`
}

// IngestResult describes the outcome of Ingest.
type IngestResult struct {
	Unit   *memetic.Unit
	Merged bool
	// Absorbed is the MERGED record left for a duplicate ingest. It
	// redirects to Unit.
	Absorbed *memetic.Unit
	// Race is set when another writer of the same content held the token
	// first and this ingest was folded into its unit.
	Race *DuplicateRaceResolved
}

// Manager keeps the routed backends consistent. It owns the per-hash
// tokens, the saga writer, the read path with fallback, and reconciliation.
type Manager struct {
	table         *table
	cache         *cache.TieredCache
	dedup         *dedup.Deduplicator
	locks         *hashLocks
	timeout       time.Duration
	redirectDepth int
	logger        zerolog.Logger

	queries  *ristretto.Cache
	queryGen atomic.Uint64
	types    *ristretto.Cache

	statusMu sync.Mutex
	status   map[string]BackendStatus

	pendingMu sync.Mutex
	pending   []ReconcileEntry

	conflicts *conflictLog

	committed    atomic.Uint64
	aborted      atomic.Uint64
	partial      atomic.Uint64
	merged       atomic.Uint64
	races        atomic.Uint64
	deleted      atomic.Uint64
	reconciled   atomic.Uint64
	synchronized atomic.Uint64
}

// New resolves the routing table and returns a Manager.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	t, err := buildTable(cfg.Routing, cfg.Adapters)
	if err != nil {
		return nil, err
	}

	if cfg.Cache == nil {
		cfg.Cache, err = cache.New([]int{defaultCacheCapacity}, cache.WithLogger(cfg.Logger))
		if err != nil {
			return nil, err
		}
	}
	if cfg.Dedup == nil {
		cfg.Dedup = &dedup.Deduplicator{}
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	if cfg.RedirectDepth <= 0 {
		cfg.RedirectDepth = DefaultRedirectDepth
	}
	if cfg.ConflictLogSize <= 0 {
		cfg.ConflictLogSize = DefaultConflictLogSize
	}

	m := &Manager{
		table:         t,
		cache:         cfg.Cache,
		dedup:         cfg.Dedup,
		locks:         newHashLocks(),
		timeout:       cfg.AdapterTimeout,
		redirectDepth: cfg.RedirectDepth,
		logger:        cfg.Logger.With().Str("component", "syncmgr").Logger(),
		status:        make(map[string]BackendStatus, len(t.all)),
		conflicts:     newConflictLog(cfg.ConflictLogSize),
	}
	for _, a := range t.all {
		m.status[a.Name()] = BackendAvailable
		observability.SetBackendDegraded(a.Name(), false)
	}

	if m.types, err = newTypeHints(); err != nil {
		return nil, fmt.Errorf("failed to create type index: %w", err)
	}

	if cfg.QueryCacheMaxCost > 0 {
		m.queries, err = ristretto.NewCache(&ristretto.Config{
			NumCounters: max(cfg.QueryCacheMaxCost*10, 1000),
			MaxCost:     cfg.QueryCacheMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
	}

	return m, nil
}

// Cache returns the tiered cache the manager keeps warm.
func (m *Manager) Cache() *cache.TieredCache { return m.cache }

// RecordStore returns the name of the store-of-record.
func (m *Manager) RecordStore() string { return m.table.record.Name() }

// Backends returns the backend names, store-of-record first.
func (m *Manager) Backends() []string {
	names := make([]string, len(m.table.all))
	for i, a := range m.table.all {
		names[i] = a.Name()
	}
	return names
}

// Acquire takes the mutual-exclusion token for a content hash. Callers
// must call release exactly once.
func (m *Manager) Acquire(ctx context.Context, hash string) (release func(), err error) {
	release, _, err = m.locks.acquire(ctx, hash)
	return release, err
}

// call runs one adapter operation under the adapter timeout and records
// its duration.
func (m *Manager) call(ctx context.Context, a adapter.Adapter, op, id string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	observability.RecordAdapterCall(a.Name(), op, time.Since(start), err == nil)
	return adapter.Wrap(a.Name(), op, id, err)
}

func (m *Manager) getFrom(ctx context.Context, a adapter.Adapter, id string) (*memetic.Unit, error) {
	var u *memetic.Unit
	err := m.call(ctx, a, "get", id, func(ctx context.Context) error {
		var err error
		u, err = a.Get(ctx, id)
		return err
	})
	return u, err
}

func (m *Manager) putTo(ctx context.Context, a adapter.Adapter, u *memetic.Unit) error {
	return m.call(ctx, a, "put", u.ID, func(ctx context.Context) error {
		return a.Put(ctx, u)
	})
}

func (m *Manager) deleteFrom(ctx context.Context, a adapter.Adapter, id string) error {
	return m.call(ctx, a, "delete", id, func(ctx context.Context) error {
		return a.Delete(ctx, id)
	})
}

func (m *Manager) searchIn(ctx context.Context, a adapter.Adapter, q adapter.Query) ([]*memetic.Unit, error) {
	var units []*memetic.Unit
	err := m.call(ctx, a, "search", "", func(ctx context.Context) error {
		var err error
		units, err = adapter.Collect(a.Search(ctx, q))
		return err
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// degrade marks a backend DEGRADED after an operational failure. Rejections
// and unsupported operations say nothing about health.
func (m *Manager) degrade(a adapter.Adapter, err error) {
	if errors.Is(err, adapter.ErrRejected) || errors.Is(err, adapter.ErrNotSupported) {
		return
	}
	m.statusMu.Lock()
	prev := m.status[a.Name()]
	m.status[a.Name()] = BackendDegraded
	m.statusMu.Unlock()

	if prev != BackendDegraded {
		m.logger.Warn().Err(err).Str("backend", a.Name()).Msg("Backend degraded")
		observability.SetBackendDegraded(a.Name(), true)
	}
}

func (m *Manager) markAvailable(name string) {
	m.statusMu.Lock()
	prev := m.status[name]
	m.status[name] = BackendAvailable
	m.statusMu.Unlock()

	if prev == BackendDegraded {
		m.logger.Info().Str("backend", name).Msg("Backend available again")
		observability.SetBackendDegraded(name, false)
	}
}

// Status returns the observed status of each backend.
func (m *Manager) Status() map[string]BackendStatus {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	out := make(map[string]BackendStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// Ingest writes a freshly built unit, or folds it into the live unit that
// already carries its content hash. A folded unit is kept as a MERGED
// redirect to the survivor. The whole decision runs under the content-hash
// token.
func (m *Manager) Ingest(ctx context.Context, u *memetic.Unit) (*IngestResult, error) {
	if u.ContentHash == "" {
		return nil, fmt.Errorf("unit %s has no content hash", u.ID)
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "syncmgr.ingest", attribute.String("content_hash", u.ContentHash))
	defer span.End()

	release, contended, err := m.locks.acquire(ctx, u.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire content token: %w", err)
	}
	defer release()

	existing, err := m.findLive(ctx, u.ContentHash)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}

	if existing != nil {
		incoming := u.Clone()
		if incoming.Status == memetic.StatusCreated {
			if err := incoming.Transition(memetic.StatusActive); err != nil {
				return nil, err
			}
		}
		survivor, absorbed, err := m.dedup.Merge(existing, incoming)
		if err != nil {
			return nil, err
		}
		// Without a vector the redirect stays off similarity-only backends.
		absorbed.SemanticVector = nil
		if err := m.Write(ctx, survivor, absorbed); err != nil {
			tracing.Fail(span, err)
			return nil, err
		}
		m.merged.Add(1)
		observability.RecordMergeAudit(ctx, "ingest", survivor.ID, absorbed.ID)
		res := &IngestResult{Unit: survivor, Absorbed: absorbed, Merged: true}
		if contended {
			res.Race = &DuplicateRaceResolved{ContentHash: u.ContentHash, SurvivorID: survivor.ID}
			m.races.Add(1)
			m.logger.Info().Err(res.Race).Str("unit_id", survivor.ID).Msg("Duplicate ingest race resolved")
		}
		return res, nil
	}

	active := u.Clone()
	if active.Status == memetic.StatusCreated {
		if err := active.Transition(memetic.StatusActive); err != nil {
			return nil, err
		}
	}
	if err := m.Write(ctx, active); err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	return &IngestResult{Unit: active}, nil
}

// findLive returns the oldest live unit with the given hash in the
// store-of-record.
func (m *Manager) findLive(ctx context.Context, hash string) (*memetic.Unit, error) {
	units, err := m.searchIn(ctx, m.table.record, adapter.Query{
		ContentHash: hash,
		Statuses:    []memetic.Status{memetic.StatusCreated, memetic.StatusActive, memetic.StatusArchived},
	})
	if err != nil {
		m.degrade(m.table.record, err)
		return nil, fmt.Errorf("failed to look up content hash: %w", err)
	}
	var oldest *memetic.Unit
	for _, u := range units {
		if oldest == nil || u.TimestampCreated.Before(oldest.TimestampCreated) ||
			(u.TimestampCreated.Equal(oldest.TimestampCreated) && u.ID < oldest.ID) {
			oldest = u
		}
	}
	return oldest, nil
}

// Get returns the stored unit for id without following merge redirects,
// or nil when no backend holds it.
func (m *Manager) Get(ctx context.Context, id string) (*memetic.Unit, error) {
	return m.cache.Get(ctx, id, m.load)
}

// Resolve is Get that follows MERGED units to their survivor.
func (m *Manager) Resolve(ctx context.Context, id string) (*memetic.Unit, error) {
	u, err := m.Get(ctx, id)
	for depth := 0; err == nil && u != nil && u.Status == memetic.StatusMerged && u.MergedInto != ""; depth++ {
		if depth >= m.redirectDepth {
			return nil, fmt.Errorf("%w: %s", ErrRedirectLoop, id)
		}
		u, err = m.Get(ctx, u.MergedInto)
	}
	return u, err
}

// load reads through the backends on a cache miss, in readOrder. A failing
// backend is degraded and queued for reconciliation; the read fails only
// when no backend could answer.
func (m *Manager) load(ctx context.Context, id string) (*memetic.Unit, error) {
	logger := tracing.LoggerFromContext(ctx, m.logger)

	var failed []adapter.Adapter
	var errs []error
	for _, a := range m.readOrder(id) {
		u, err := m.getFrom(ctx, a, id)
		if err != nil {
			logger.Warn().Err(err).Str("backend", a.Name()).Str("unit_id", id).Msg("Backend read failed, trying fallback")
			m.degrade(a, err)
			failed = append(failed, a)
			errs = append(errs, err)
			continue
		}
		if u == nil {
			continue
		}
		for _, f := range failed {
			m.enqueue(ReconcileEntry{Backend: f.Name(), UnitID: id, Op: OpRepair, From: a.Name()})
		}
		m.rememberType(u)
		return u, nil
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// Delete removes id from every backend and the caches. A store-of-record
// failure is returned; secondary failures are queued for reconciliation.
func (m *Manager) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "syncmgr.delete", attribute.String("unit_id", id))
	defer span.End()

	var recordErr error
	for i := len(m.table.all) - 1; i >= 0; i-- {
		a := m.table.all[i]
		if err := m.deleteFrom(ctx, a, id); err != nil {
			m.degrade(a, err)
			m.enqueue(ReconcileEntry{Backend: a.Name(), UnitID: id, Op: OpRemove})
			if a == m.table.record {
				recordErr = err
			} else {
				m.logger.Warn().Err(err).Str("backend", a.Name()).Str("unit_id", id).Msg("Secondary delete failed, queued")
			}
		}
	}

	m.cache.Invalidate(id)
	m.forgetType(id)
	m.invalidateQueries()
	if recordErr != nil {
		tracing.Fail(span, recordErr)
		return recordErr
	}
	m.deleted.Add(1)
	return nil
}

// Records scans the store-of-record directly, bypassing the caches.
func (m *Manager) Records(ctx context.Context, q adapter.Query) memetic.Seq {
	return adapter.FromSlice(func() ([]*memetic.Unit, error) {
		units, err := m.searchIn(ctx, m.table.record, q)
		if err != nil {
			m.degrade(m.table.record, err)
		}
		return units, err
	})
}

// CountByStatus counts units per status in the store-of-record.
func (m *Manager) CountByStatus(ctx context.Context) (map[memetic.Status]int, error) {
	if sc, ok := m.table.record.(adapter.StatusCounter); ok {
		var counts map[memetic.Status]int
		err := m.call(ctx, m.table.record, "count", "", func(ctx context.Context) error {
			var err error
			counts, err = sc.CountByStatus(ctx)
			return err
		})
		return counts, err
	}

	counts := make(map[memetic.Status]int)
	for u, err := range m.Records(ctx, adapter.Query{}) {
		if err != nil {
			return nil, err
		}
		counts[u.Status]++
	}
	return counts, nil
}

// Neighbors returns the ids reachable from id over links within depth hops.
// A backend that indexes links answers directly; otherwise links are
// followed through Get.
func (m *Manager) Neighbors(ctx context.Context, id string, depth int) ([]string, error) {
	if depth < 1 {
		depth = 1
	}
	for _, a := range m.table.all {
		lt, ok := a.(adapter.LinkTraverser)
		if !ok {
			continue
		}
		var ids []string
		err := m.call(ctx, a, "neighbors", id, func(ctx context.Context) error {
			var err error
			ids, err = lt.Neighbors(ctx, id, depth)
			return err
		})
		if err == nil {
			return ids, nil
		}
		m.degrade(a, err)
	}

	seen := map[string]bool{id: true}
	var out []string
	frontier := []string{id}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			u, err := m.Get(ctx, cur)
			if err != nil {
				return out, err
			}
			if u == nil {
				continue
			}
			for _, target := range u.Neighbors() {
				if seen[target] {
					continue
				}
				seen[target] = true
				out = append(out, target)
				next = append(next, target)
			}
		}
		frontier = next
	}
	return out, nil
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.pendingMu.Lock()
	pending := len(m.pending)
	m.pendingMu.Unlock()

	return Stats{
		Committed:    m.committed.Load(),
		Aborted:      m.aborted.Load(),
		Partial:      m.partial.Load(),
		Merged:       m.merged.Load(),
		Races:        m.races.Load(),
		Deleted:      m.deleted.Load(),
		Reconciled:   m.reconciled.Load(),
		Synchronized: m.synchronized.Load(),
		Conflicts:    m.conflicts.total(),
		Pending:      pending,
		Backends:     m.Status(),
	}
}

// Close releases every backend.
func (m *Manager) Close() error {
	if m.queries != nil {
		m.queries.Close()
	}
	m.types.Close()
	var errs []error
	for _, a := range slices.Backward(m.table.all) {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}
