// Package sqlitestore is the document backend: units are stored as JSON rows
// with indexed hash, status and type columns, an FTS5 keyword index and an
// optional sqlite-vec similarity index. It is the default store of record.
//
// The keyword index needs FTS5, which mattn/go-sqlite3 only compiles in with
// a build tag:
//
//	go build -tags sqlite_fts5 ./...
//	go test -tags sqlite_fts5 ./...
//
// Without it New fails with "no such module: fts5". The Makefile targets set
// the tag.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
	_ "github.com/mattn/go-sqlite3" // build with -tags sqlite_fts5
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Config holds document store configuration
type Config struct {
	Name string
	Path string
	// Dimension of the similarity index. Zero disables sqlite-vec and vector
	// queries fall back to an in-process scan.
	Dimension int
	Logger    zerolog.Logger
}

// Store is a sqlite-backed adapter.
type Store struct {
	db        *sql.DB
	name      string
	dimension int
	logger    zerolog.Logger
}

// New opens (or creates) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Name == "" {
		cfg.Name = "sqlite"
	}

	// Open database with FTS5 support
	db, err := sql.Open("sqlite3", cfg.Path+"?_fts5=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:        db,
		name:      cfg.Name,
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("backend", s.name).Int("dimension", s.dimension).Msg("Document store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS units (
			id TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			cognitive_type TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			data TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_units_hash ON units(content_hash);
		CREATE INDEX IF NOT EXISTS idx_units_status ON units(status);
		CREATE INDEX IF NOT EXISTS idx_units_type ON units(cognitive_type);

		CREATE VIRTUAL TABLE IF NOT EXISTS units_fts USING fts5(
			unit_id UNINDEXED,
			keywords,
			body,
			tokenize='porter unicode61'
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.dimension > 0 {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS unit_vectors USING vec0(
				unit_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.dimension)
		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}
	return nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Capabilities() adapter.Capabilities {
	caps := adapter.Capabilities{
		Indexes: []adapter.Field{
			adapter.FieldID, adapter.FieldContentHash, adapter.FieldStatus,
			adapter.FieldCognitiveType, adapter.FieldKeywords,
		},
	}
	if s.dimension > 0 {
		caps.Indexes = append(caps.Indexes, adapter.FieldVector)
	}
	return caps
}

func (s *Store) Put(ctx context.Context, u *memetic.Unit) error {
	if err := s.put(ctx, u); err != nil {
		return adapter.Wrap(s.name, "put", u.ID, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, u *memetic.Unit) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode unit: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO units (id, content_hash, status, cognitive_type, source, created_at, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data`,
		u.ID, u.ContentHash, string(u.Status), string(u.CognitiveType), string(u.Source),
		u.TimestampCreated.UnixNano(), u.UpdatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert unit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM units_fts WHERE unit_id = ?", u.ID); err != nil {
		return fmt.Errorf("failed to clear keyword index: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO units_fts (unit_id, keywords, body) VALUES (?, ?, ?)",
		u.ID, strings.Join(append([]string{u.Topic}, u.Keywords...), " "), memetic.PayloadText(u.Payload),
	); err != nil {
		return fmt.Errorf("failed to index keywords: %w", err)
	}

	if s.dimension > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM unit_vectors WHERE unit_id = ?", u.ID); err != nil {
			return fmt.Errorf("failed to clear vector index: %w", err)
		}
		switch {
		case len(u.SemanticVector) == s.dimension:
			embeddingJSON, err := json.Marshal(u.SemanticVector)
			if err != nil {
				return fmt.Errorf("failed to marshal embedding for storage: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO unit_vectors (unit_id, embedding) VALUES (?, ?)",
				u.ID, string(embeddingJSON),
			); err != nil {
				return fmt.Errorf("failed to store embedding in vector table: %w", err)
			}
		case len(u.SemanticVector) > 0:
			s.logger.Warn().
				Str("unit_id", u.ID).
				Int("dimension", len(u.SemanticVector)).
				Int("expected", s.dimension).
				Msg("Skipping vector index for mismatched dimension")
		}
	}

	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id string) (*memetic.Unit, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM units WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, adapter.Wrap(s.name, "get", id, err)
	}
	u, err := decode(data)
	if err != nil {
		return nil, adapter.Wrap(s.name, "get", id, err)
	}
	return u, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.delete(ctx, id); err != nil {
		return adapter.Wrap(s.name, "delete", id, err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM units WHERE id = ?",
		"DELETE FROM units_fts WHERE unit_id = ?",
	}
	if s.dimension > 0 {
		stmts = append(stmts, "DELETE FROM unit_vectors WHERE unit_id = ?")
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, q adapter.Query) memetic.Seq {
	return adapter.FromSlice(func() ([]*memetic.Unit, error) {
		units, err := s.search(ctx, q)
		if err != nil {
			return nil, adapter.Wrap(s.name, "search", "", err)
		}
		return units, nil
	})
}

func (s *Store) search(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	switch {
	case len(q.Vector) > 0 && s.dimension > 0:
		return s.vectorSearch(ctx, q)
	case len(q.Vector) > 0:
		return s.scanSimilar(ctx, q)
	case q.Text != "":
		return s.keywordSearch(ctx, q)
	default:
		return s.scan(ctx, q)
	}
}

// vectorSearch ranks by vec_distance_cosine. Structural filters are applied
// in the same statement so LIMIT counts only matching units.
func (s *Store) vectorSearch(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	if len(q.Vector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index has %d", len(q.Vector), s.dimension)
	}
	embeddingJSON, err := json.Marshal(q.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	where, args := filterSQL(q, "u.")
	query := "SELECT u.data FROM unit_vectors v JOIN units u ON u.id = v.unit_id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY vec_distance_cosine(v.embedding, ?) ASC, u.id LIMIT ?"
	args = append(args, string(embeddingJSON), sqlLimit(q))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanUnits(rows, adapter.Query{})
}

// keywordSearch ranks FTS5 hits by bm25. Rows of units that fail the status,
// type or hash filter are excluded before LIMIT, so redirects sharing a
// survivor's payload cannot crowd it out.
func (s *Store) keywordSearch(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	match := ftsQuery(q.Text)
	if match == "" {
		return s.scan(ctx, q)
	}

	where, args := filterSQL(q, "u.")
	where = append([]string{"units_fts MATCH ?"}, where...)
	args = append([]any{match}, args...)
	query := "SELECT u.data FROM units_fts JOIN units u ON u.id = units_fts.unit_id" +
		" WHERE " + strings.Join(where, " AND ") +
		" ORDER BY bm25(units_fts), u.id LIMIT ?"
	args = append(args, sqlLimit(q))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanUnits(rows, adapter.Query{})
}

func (s *Store) scan(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	where, args := filterSQL(q, "")
	query := "SELECT data FROM units"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	// Text is matched in Go, so the limit is applied while scanning.
	if q.Text == "" {
		query += " LIMIT ?"
		args = append(args, sqlLimit(q))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanUnits(rows, q)
}

// scanSimilar serves vector queries when no similarity index is configured.
func (s *Store) scanSimilar(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	all := q
	all.Limit = 0
	units, err := s.scan(ctx, all)
	if err != nil {
		return nil, err
	}
	type hit struct {
		u     *memetic.Unit
		score float64
	}
	hits := make([]hit, 0, len(units))
	for _, u := range units {
		if len(u.SemanticVector) != len(q.Vector) {
			continue
		}
		hits = append(hits, hit{u, adapter.Cosine(q.Vector, u.SemanticVector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].u.ID < hits[j].u.ID
	})

	out := make([]*memetic.Unit, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.u)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// CountByStatus implements adapter.StatusCounter.
func (s *Store) CountByStatus(ctx context.Context) (map[memetic.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM units GROUP BY status")
	if err != nil {
		return nil, adapter.Wrap(s.name, "count", "", err)
	}
	defer rows.Close()

	counts := make(map[memetic.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, adapter.Wrap(s.name, "count", "", err)
		}
		counts[memetic.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return adapter.Wrap(s.name, "ping", "", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

func decode(data string) (*memetic.Unit, error) {
	var u memetic.Unit
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, fmt.Errorf("failed to decode unit: %w", err)
	}
	return &u, nil
}

// scanUnits decodes data rows, keeping those that satisfy q, up to q.Limit.
func scanUnits(rows *sql.Rows, q adapter.Query) ([]*memetic.Unit, error) {
	defer rows.Close()
	var units []*memetic.Unit
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		u, err := decode(data)
		if err != nil {
			return nil, err
		}
		if !q.Matches(u) {
			continue
		}
		units = append(units, u)
		if q.Limit > 0 && len(units) == q.Limit {
			break
		}
	}
	return units, rows.Err()
}

// filterSQL renders the structural constraints of q against the units
// table. prefix qualifies the column names.
func filterSQL(q adapter.Query, prefix string) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	if q.ContentHash != "" {
		where = append(where, prefix+"content_hash = ?")
		args = append(args, q.ContentHash)
	}
	if len(q.Statuses) > 0 {
		where = append(where, prefix+"status IN ("+placeholders(len(q.Statuses))+")")
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}
	if len(q.CognitiveTypes) > 0 {
		where = append(where, prefix+"cognitive_type IN ("+placeholders(len(q.CognitiveTypes))+")")
		for _, ct := range q.CognitiveTypes {
			args = append(args, string(ct))
		}
	}
	return where, args
}

// ftsQuery quotes each term so user text cannot inject FTS5 syntax. Terms
// are ANDed.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}

// sqlLimit maps an unset limit to SQLite's "no limit".
func sqlLimit(q adapter.Query) int {
	if q.Limit <= 0 {
		return -1
	}
	return q.Limit
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
