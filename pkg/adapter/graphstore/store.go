// Package graphstore is the relationship backend. Units are stored as nodes
// and their links as an adjacency table keyed by id, so cycles and dangling
// targets are representable without owning references.
package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

// Config configures the relationship store.
type Config struct {
	Name   string
	Path   string
	Logger zerolog.Logger
}

// Store is a link-indexed adapter on pure-Go sqlite.
type Store struct {
	db     *sql.DB
	name   string
	logger zerolog.Logger
}

// New opens or creates the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Name == "" {
		cfg.Name = "graph"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db, name: cfg.Name, logger: cfg.Logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id             TEXT PRIMARY KEY,
		content_hash   TEXT NOT NULL,
		status         TEXT NOT NULL,
		cognitive_type TEXT NOT NULL,
		data           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_hash ON nodes(content_hash);
	CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);

	CREATE TABLE IF NOT EXISTS edges (
		from_id  TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		to_id    TEXT NOT NULL,
		rel      TEXT NOT NULL,
		strength REAL NOT NULL DEFAULT 0,
		seq      INTEGER NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Name() string { return s.name }

func (s *Store) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Indexes: []adapter.Field{
			adapter.FieldID, adapter.FieldContentHash, adapter.FieldStatus,
			adapter.FieldCognitiveType, adapter.FieldLinks,
		},
	}
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
		return fmt.Errorf("encode unit: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, content_hash, status, cognitive_type, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			status = excluded.status,
			data = excluded.data`,
		u.ID, u.ContentHash, string(u.Status), string(u.CognitiveType), string(data),
	); err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE from_id = ?", u.ID); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	for i, l := range u.Links {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO edges (from_id, to_id, rel, strength, seq) VALUES (?, ?, ?, ?, ?)",
			u.ID, l.Target, l.Type, l.Strength, i,
		); err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id string) (*memetic.Unit, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM nodes WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, adapter.Wrap(s.name, "get", id, err)
	}
	var u memetic.Unit
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, adapter.Wrap(s.name, "get", id, fmt.Errorf("decode unit: %w", err))
	}
	return &u, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	// edges cascade
	if _, err := s.db.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id); err != nil {
		return adapter.Wrap(s.name, "delete", id, err)
	}
	return nil
}

// Search filters nodes on hash, status and type. Similarity queries are not
// supported.
func (s *Store) Search(ctx context.Context, q adapter.Query) memetic.Seq {
	return adapter.FromSlice(func() ([]*memetic.Unit, error) {
		if len(q.Vector) > 0 {
			return nil, adapter.Wrap(s.name, "search", "", adapter.ErrNotSupported)
		}
		units, err := s.scan(ctx, q)
		if err != nil {
			return nil, adapter.Wrap(s.name, "search", "", err)
		}
		return units, nil
	})
}

func (s *Store) scan(ctx context.Context, q adapter.Query) ([]*memetic.Unit, error) {
	var (
		where []string
		args  []any
	)
	if q.ContentHash != "" {
		where = append(where, "content_hash = ?")
		args = append(args, q.ContentHash)
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}

	query := "SELECT data FROM nodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*memetic.Unit
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var u memetic.Unit
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			return nil, fmt.Errorf("decode unit: %w", err)
		}
		if !q.Matches(&u) {
			continue
		}
		units = append(units, &u)
		if q.Limit > 0 && len(units) == q.Limit {
			break
		}
	}
	return units, rows.Err()
}

// Neighbors returns the ids reachable from id within depth hops, nearest
// first. The start id is excluded; cycles terminate.
func (s *Store) Neighbors(ctx context.Context, id string, depth int) ([]string, error) {
	if depth <= 0 {
		depth = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE reach(node, hops) AS (
			SELECT ?, 0
			UNION
			SELECT e.to_id, r.hops + 1
			FROM edges e JOIN reach r ON e.from_id = r.node
			WHERE r.hops < ?
		)
		SELECT node, MIN(hops) AS hops FROM reach
		WHERE node != ?
		GROUP BY node
		ORDER BY hops, node`,
		id, depth, id,
	)
	if err != nil {
		return nil, adapter.Wrap(s.name, "neighbors", id, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var node string
		var hops int
		if err := rows.Scan(&node, &hops); err != nil {
			return nil, adapter.Wrap(s.name, "neighbors", id, err)
		}
		ids = append(ids, node)
	}
	return ids, rows.Err()
}

// Backlinks returns the ids of units linking to id.
func (s *Store) Backlinks(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT from_id FROM edges WHERE to_id = ? ORDER BY from_id", id)
	if err != nil {
		return nil, adapter.Wrap(s.name, "backlinks", id, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var from string
		if err := rows.Scan(&from); err != nil {
			return nil, adapter.Wrap(s.name, "backlinks", id, err)
		}
		ids = append(ids, from)
	}
	return ids, rows.Err()
}

// CountByStatus implements adapter.StatusCounter.
func (s *Store) CountByStatus(ctx context.Context) (map[memetic.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM nodes GROUP BY status")
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
