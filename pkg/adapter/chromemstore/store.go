// Package chromemstore is the similarity backend, built on chromem-go. It
// only accepts units that carry a semantic vector and only answers vector
// queries.
package chromemstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

const defaultCollection = "memetic_units"

// Config configures the vector store. An empty Path keeps the database in
// memory.
type Config struct {
	Name       string
	Path       string
	Collection string
	Compress   bool
	Logger     zerolog.Logger
}

// Store wraps a chromem collection.
type Store struct {
	name   string
	db     *chromem.DB
	col    *chromem.Collection
	logger zerolog.Logger
}

// New opens the vector store.
func New(cfg Config) (*Store, error) {
	if cfg.Name == "" {
		cfg.Name = "chromem"
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	// Embeddings are always supplied by the caller.
	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, adapter.ErrNotSupported
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	cfg.Logger.Info().
		Str("backend", cfg.Name).
		Str("collection", cfg.Collection).
		Int("documents", col.Count()).
		Msg("Vector store initialized")

	return &Store{name: cfg.Name, db: db, col: col, logger: cfg.Logger}, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Indexes:  []adapter.Field{adapter.FieldID, adapter.FieldVector},
		Requires: []adapter.Field{adapter.FieldVector},
	}
}

func (s *Store) Put(ctx context.Context, u *memetic.Unit) error {
	if !s.Capabilities().Accepts(u) {
		return adapter.Wrap(s.name, "put", u.ID, adapter.ErrRejected)
	}
	content, err := json.Marshal(u)
	if err != nil {
		return adapter.Wrap(s.name, "put", u.ID, fmt.Errorf("serialize unit: %w", err))
	}

	doc := chromem.Document{
		ID:        u.ID,
		Content:   string(content),
		Embedding: append([]float32(nil), u.SemanticVector...),
		Metadata: map[string]string{
			"status":         string(u.Status),
			"cognitive_type": string(u.CognitiveType),
			"content_hash":   u.ContentHash,
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return adapter.Wrap(s.name, "put", u.ID, fmt.Errorf("add document: %w", err))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*memetic.Unit, error) {
	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, adapter.Wrap(s.name, "get", id, err)
	}
	u, err := decode(doc.Content)
	if err != nil {
		return nil, adapter.Wrap(s.name, "get", id, err)
	}
	return u, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return adapter.Wrap(s.name, "delete", id, err)
	}
	return nil
}

// Search answers similarity queries only. Other queries fail with
// adapter.ErrNotSupported so callers can skip this backend.
func (s *Store) Search(ctx context.Context, q adapter.Query) memetic.Seq {
	return adapter.FromSlice(func() ([]*memetic.Unit, error) {
		if len(q.Vector) == 0 {
			return nil, adapter.Wrap(s.name, "search", "", adapter.ErrNotSupported)
		}
		units, err := s.query(ctx, q)
		if err != nil {
			return nil, adapter.Wrap(s.name, "search", "", err)
		}
		return units, nil
	})
}

func (s *Store) query(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	total := s.col.Count()
	if total == 0 {
		return nil, nil
	}

	// chromem-go requires nResults <= collection size
	n := total
	if q.Limit > 0 && len(q.Statuses) == 0 && len(q.CognitiveTypes) == 0 {
		n = min(q.Limit, total)
	}

	var where map[string]string
	if q.ContentHash != "" {
		where = map[string]string{"content_hash": q.ContentHash}
	}

	results, err := s.col.QueryEmbedding(ctx, q.Vector, n, where, nil)
	if err != nil {
		if isInsufficientDocsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	units := make([]*memetic.Unit, 0, len(results))
	for _, r := range results {
		u, err := decode(r.Content)
		if err != nil {
			s.logger.Warn().Err(err).Str("unit_id", r.ID).Msg("Skipping undecodable document")
			continue
		}
		if !q.Matches(u) {
			continue
		}
		units = append(units, u)
		if q.Limit > 0 && len(units) == q.Limit {
			break
		}
	}
	return units, nil
}

// Count returns the number of stored vectors.
func (s *Store) Count() int {
	return s.col.Count()
}

// Close is a no-op; persistent chromem databases write through on every change.
func (s *Store) Close() error {
	return nil
}

func decode(content string) (*memetic.Unit, error) {
	var u memetic.Unit
	if err := json.Unmarshal([]byte(content), &u); err != nil {
		return nil, fmt.Errorf("deserialize unit: %w", err)
	}
	return &u, nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found")
}

// isInsufficientDocsError matches chromem's complaint when a filter leaves
// fewer documents than requested.
func isInsufficientDocsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") ||
		strings.Contains(msg, "number of documents")
}
