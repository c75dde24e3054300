package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/cache"
	"github.com/harun/memcore/pkg/dedup"
	"github.com/harun/memcore/pkg/governance"
	"github.com/harun/memcore/pkg/memetic"
	"github.com/harun/memcore/pkg/syncmgr"
)

const tracerName = "memcore.memory"

const DefaultSearchLimit = 20

// Quota bounds write admission. MaxUnits of zero admits everything.
type Quota struct {
	MaxUnits int `json:"max_units"`
	// CountArchived makes ARCHIVED units count toward MaxUnits alongside
	// ACTIVE ones.
	CountArchived bool `json:"count_archived"`
}

// Config holds memory service configuration
type Config struct {
	Manager *syncmgr.Manager
	Engine  *governance.Engine

	// EmbeddingProvider is optional. Without it units carry no semantic
	// vector and search matches on text only.
	EmbeddingProvider EmbeddingProvider
	Quota             Quota
	SearchLimit       int

	Logger zerolog.Logger
	Now    func() time.Time
}

// IngestOptions carries the optional context of an ingestion.
type IngestOptions struct {
	ParentID      string
	RelatedIDs    []string
	Links         []memetic.Link
	Context       map[string]any
	Lifespan      memetic.LifespanPolicy
	AccessControl map[string][]memetic.Operation
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Limit           int
	IncludeArchived bool
	CognitiveTypes  []memetic.CognitiveType
}

// Stats is a point-in-time view of the memory core.
type Stats struct {
	Cache   cache.Stats            `json:"cache"`
	Units   map[memetic.Status]int `json:"units"`
	Total   int                    `json:"total_units"`
	Sync    syncmgr.Stats          `json:"sync"`
	Deleted uint64                 `json:"deleted"`
}

// Service is the external surface of the memory core.
type Service struct {
	mgr      *syncmgr.Manager
	engine   *governance.Engine
	embedder EmbeddingProvider
	quota    Quota
	limit    int
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a memory service. A nil engine gets one with default policy.
func New(cfg Config) (*Service, error) {
	observability.EnsureRegistered()

	if cfg.Manager == nil {
		return nil, errors.New("sync manager is required")
	}
	if cfg.Quota.MaxUnits < 0 {
		return nil, fmt.Errorf("quota max_units must be >= 0, got %d", cfg.Quota.MaxUnits)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Engine == nil {
		cfg.Engine = governance.NewEngine(cfg.Manager, &dedup.Deduplicator{Now: cfg.Now}, governance.Config{
			Logger: cfg.Logger,
			Now:    cfg.Now,
		})
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}

	return &Service{
		mgr:      cfg.Manager,
		engine:   cfg.Engine,
		embedder: cfg.EmbeddingProvider,
		quota:    cfg.Quota,
		limit:    cfg.SearchLimit,
		logger:   cfg.Logger.With().Str("component", "memory").Logger(),
		now:      cfg.Now,
	}, nil
}

// Ingest stores payload as a new ACTIVE unit, or folds it into the live
// unit that already holds the same content. It returns the id callers
// should use from now on.
func (s *Service) Ingest(ctx context.Context, payload any, source memetic.Source, opts IngestOptions) (string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.ingest", attribute.String("source", string(source)))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	start := time.Now()
	id, merged, err := s.ingest(ctx, payload, source, opts)
	if err != nil {
		observability.RecordIngest("failed")
		tracing.Fail(span, err)
		logger.Warn().Err(err).Str("source", string(source)).Msg("Ingest failed")
		return "", err
	}
	observability.RecordMemoryWrite(time.Since(start))

	outcome := "created"
	if merged {
		outcome = "merged"
	}
	observability.RecordIngest(outcome)
	span.SetAttributes(attribute.String("unit_id", id), attribute.Bool("merged", merged))
	logger.Debug().Str("unit_id", id).Str("outcome", outcome).Msg("Ingested unit")
	return id, nil
}

func (s *Service) ingest(ctx context.Context, payload any, source memetic.Source, opts IngestOptions) (string, bool, error) {
	if payload == nil {
		return "", false, ErrEmptyPayload
	}
	hash, err := dedup.Hash(payload)
	if err != nil {
		return "", false, err
	}
	if err := s.admit(ctx, hash); err != nil {
		return "", false, err
	}

	var vector []float32
	if s.embedder != nil {
		vector, err = s.embedder.GenerateEmbedding(ctx, memetic.PayloadText(payload))
		if err != nil {
			// Similarity-only backends will skip the unit; the store-of-record still takes it.
			logger := tracing.LoggerFromContext(ctx, s.logger)
			logger.Warn().Err(err).Msg("Embedding failed, storing without vector")
			vector = nil
		}
	}

	u := memetic.NewUnit(memetic.Draft{
		Source:         source,
		Payload:        payload,
		ContentHash:    hash,
		ParentID:       opts.ParentID,
		RelatedIDs:     opts.RelatedIDs,
		Links:          opts.Links,
		Hints:          opts.Context,
		Lifespan:       opts.Lifespan,
		AccessControl:  opts.AccessControl,
		SemanticVector: vector,
	}, s.now(), s.logger)

	res, err := s.mgr.Ingest(ctx, u)
	if err != nil {
		return "", false, err
	}
	if res.Race != nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Info().Err(res.Race).Msg("Concurrent duplicate folded into survivor")
	}
	return res.Unit.ID, res.Merged, nil
}

// admit enforces the quota. Content that is already stored is always
// admitted since it merges instead of adding a unit.
func (s *Service) admit(ctx context.Context, hash string) error {
	if s.quota.MaxUnits == 0 {
		return nil
	}

	existing, err := adapter.Collect(s.mgr.Records(ctx, adapter.Query{
		ContentHash: hash,
		Statuses:    []memetic.Status{memetic.StatusActive, memetic.StatusArchived},
		Limit:       1,
	}))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	counts, err := s.mgr.CountByStatus(ctx)
	if err != nil {
		return err
	}
	used := counts[memetic.StatusActive]
	if s.quota.CountArchived {
		used += counts[memetic.StatusArchived]
	}
	if used >= s.quota.MaxUnits {
		return fmt.Errorf("%w: %d of %d units in use", ErrQuotaExceeded, used, s.quota.MaxUnits)
	}
	return nil
}

// Get returns the unit with id, following merges to the survivor. It
// returns nil when the unit does not exist.
func (s *Service) Get(ctx context.Context, id string) (*memetic.Unit, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "memory.get", attribute.String("unit_id", id))
	defer span.End()

	u, err := s.mgr.Resolve(ctx, id)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	if u == nil {
		return nil, nil
	}
	if !allowed(ctx, u, memetic.OpRead) {
		return nil, fmt.Errorf("%w: read %s", ErrAccessDenied, id)
	}
	return u, nil
}

// Search returns ACTIVE units matching query, plus ARCHIVED ones when
// includeArchived is set.
func (s *Service) Search(ctx context.Context, query string, includeArchived bool) memetic.Seq {
	return s.SearchWith(ctx, query, SearchOptions{IncludeArchived: includeArchived})
}

// SearchWith is Search with explicit options. With an embedding provider
// the query is ranked by similarity; otherwise every term must match. The
// returned sequence re-runs the search each time it is ranged over.
func (s *Service) SearchWith(ctx context.Context, query string, opts SearchOptions) memetic.Seq {
	return func(yield func(*memetic.Unit, error) bool) {
		ctx, span := tracing.StartSpan(ctx, tracerName, "memory.search",
			attribute.String("query", query), attribute.Bool("include_archived", opts.IncludeArchived))
		defer span.End()
		start := time.Now()
		defer func() { observability.RecordMemorySearch(time.Since(start)) }()

		q := s.query(ctx, query, opts)
		count := 0
		for u, err := range s.mgr.Search(ctx, q) {
			if err != nil {
				tracing.Fail(span, err)
				yield(nil, err)
				return
			}
			if !allowed(ctx, u, memetic.OpRead) {
				continue
			}
			count++
			if !yield(u, nil) {
				break
			}
		}
		span.SetAttributes(attribute.Int("results", count))
	}
}

func (s *Service) query(ctx context.Context, text string, opts SearchOptions) adapter.Query {
	q := adapter.Query{
		Text:           text,
		Statuses:       []memetic.Status{memetic.StatusActive},
		CognitiveTypes: opts.CognitiveTypes,
		Limit:          opts.Limit,
	}
	if opts.IncludeArchived {
		q.Statuses = append(q.Statuses, memetic.StatusArchived)
	}
	if q.Limit <= 0 {
		q.Limit = s.limit
	}
	if s.embedder != nil && text != "" {
		vec, err := s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			logger := tracing.LoggerFromContext(ctx, s.logger)
			logger.Warn().Err(err).Msg("Query embedding failed, using keyword search")
		} else {
			q.Vector = vec
		}
	}
	return q
}

// Touch records an access of the given importance in [0, 1].
func (s *Service) Touch(ctx context.Context, id string, importance float64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	_, err := s.engine.RecordAccess(ctx, id, importance)
	return err
}

// Related returns the units reachable from id within depth link hops.
// Dangling links are skipped.
func (s *Service) Related(ctx context.Context, id string, depth int) ([]*memetic.Unit, error) {
	ids, err := s.mgr.Neighbors(ctx, id, depth)
	if err != nil {
		return nil, err
	}
	units := make([]*memetic.Unit, 0, len(ids))
	for _, nid := range ids {
		u, err := s.mgr.Resolve(ctx, nid)
		if err != nil {
			return nil, err
		}
		if u == nil || !allowed(ctx, u, memetic.OpRead) {
			continue
		}
		units = append(units, u)
	}
	return units, nil
}

// Delete physically removes a unit from every backend.
func (s *Service) Delete(ctx context.Context, id string) error {
	u, err := s.mgr.Get(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}
	if !allowed(ctx, u, memetic.OpDelete) {
		return fmt.Errorf("%w: delete %s", ErrAccessDenied, id)
	}
	if err := s.mgr.Delete(ctx, id); err != nil {
		return err
	}
	observability.RecordDeleteAudit(ctx, tracing.GetPrincipal(ctx), id)
	return nil
}

// Stats reports cache counters, unit counts per status and sync counters.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.mgr.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Cache: s.mgr.Cache().Stats(),
		Units: make(map[memetic.Status]int, len(memetic.AllStatuses)),
		Sync:  s.mgr.Stats(),
	}
	for _, status := range memetic.AllStatuses {
		st.Units[status] = counts[status]
		st.Total += counts[status]
	}
	st.Deleted = st.Sync.Deleted
	return st, nil
}

// Sweep runs one governance pass.
func (s *Service) Sweep(ctx context.Context) (governance.SweepReport, error) {
	return s.engine.Sweep(ctx)
}

// Reconcile repairs backends left inconsistent by failed reads and writes.
func (s *Service) Reconcile(ctx context.Context) (syncmgr.ReconcileReport, error) {
	return s.engine.Reconcile(ctx)
}

// Engine returns the governance engine, for scheduling.
func (s *Service) Engine() *governance.Engine { return s.engine }

// Manager returns the sync manager.
func (s *Service) Manager() *syncmgr.Manager { return s.mgr }

// Close releases the backends.
func (s *Service) Close() error {
	s.logger.Info().Msg("Closing memory service")
	return s.mgr.Close()
}

// allowed checks op for the principal on ctx. Calls without a principal
// are trusted internal calls.
func allowed(ctx context.Context, u *memetic.Unit, op memetic.Operation) bool {
	principal := tracing.GetPrincipal(ctx)
	return principal == "" || u.Allows(principal, op)
}
