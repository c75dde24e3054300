// Package neo4jstore is a relationship backend on Neo4j. Units are
// :MemeticUnit nodes carrying their JSON document; links are :LINK edges.
// Link targets that are not stored yet become placeholder nodes without a
// document.
package neo4jstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
)

// Config holds connection settings.
type Config struct {
	Name                  string
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration
	Logger                zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "neo4j"
	}
	if c.MaxConnectionPoolSize <= 0 {
		c.MaxConnectionPoolSize = 50
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
}

// Store is a Neo4j-backed adapter.
type Store struct {
	cfg    Config
	driver neo4j.DriverWithContext
	logger zerolog.Logger
}

// New connects to Neo4j and ensures the id uniqueness constraint exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j uri is required")
	}
	cfg.applyDefaults()

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
		c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	s := &Store{cfg: cfg, driver: driver, logger: cfg.Logger}
	if err := s.write(ctx, []statement{{cypher: constraintCypher}}); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("create constraint: %w", err)
	}
	s.logger.Info().Str("backend", cfg.Name).Str("uri", cfg.URI).Msg("Graph store connected")
	return s, nil
}

const constraintCypher = `CREATE CONSTRAINT memetic_unit_id IF NOT EXISTS FOR (u:MemeticUnit) REQUIRE u.id IS UNIQUE`

type statement struct {
	cypher string
	params map[string]any
}

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.cfg.Database})
}

func (s *Store) write(ctx context.Context, stmts []statement) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			result, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// readStrings runs a read query and returns column key of every record.
func (s *Store) readStrings(ctx context.Context, cypher string, params map[string]any, key string) ([]string, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(records))
		for _, rec := range records {
			v, ok := rec.Get(key)
			if !ok {
				continue
			}
			if str, ok := v.(string); ok {
				values = append(values, str)
			}
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

func (s *Store) Name() string { return s.cfg.Name }

func (s *Store) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		Indexes: []adapter.Field{
			adapter.FieldID, adapter.FieldContentHash, adapter.FieldStatus, adapter.FieldLinks,
		},
	}
}

func (s *Store) Put(ctx context.Context, u *memetic.Unit) error {
	stmts, err := putStatements(u)
	if err != nil {
		return adapter.Wrap(s.cfg.Name, "put", u.ID, err)
	}
	return adapter.Wrap(s.cfg.Name, "put", u.ID, s.write(ctx, stmts))
}

func putStatements(u *memetic.Unit) ([]statement, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode unit: %w", err)
	}
	links := make([]map[string]any, 0, len(u.Links))
	for _, l := range u.Links {
		links = append(links, map[string]any{"target": l.Target, "rel": l.Type, "strength": l.Strength})
	}
	return []statement{
		{
			cypher: `MERGE (u:MemeticUnit {id: $id})
				SET u.content_hash = $hash, u.status = $status, u.cognitive_type = $type, u.data = $data`,
			params: map[string]any{
				"id": u.ID, "hash": u.ContentHash, "status": string(u.Status),
				"type": string(u.CognitiveType), "data": string(data),
			},
		},
		{
			cypher: `MATCH (:MemeticUnit {id: $id})-[r:LINK]->() DELETE r`,
			params: map[string]any{"id": u.ID},
		},
		{
			cypher: `MATCH (u:MemeticUnit {id: $id})
				UNWIND $links AS l
				MERGE (t:MemeticUnit {id: l.target})
				MERGE (u)-[r:LINK {rel: l.rel}]->(t)
				SET r.strength = l.strength`,
			params: map[string]any{"id": u.ID, "links": links},
		},
	}, nil
}

func (s *Store) Get(ctx context.Context, id string) (*memetic.Unit, error) {
	docs, err := s.readStrings(ctx,
		`MATCH (u:MemeticUnit {id: $id}) WHERE u.data IS NOT NULL RETURN u.data AS data`,
		map[string]any{"id": id}, "data")
	if err != nil {
		return nil, adapter.Wrap(s.cfg.Name, "get", id, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	u, err := decode(docs[0])
	if err != nil {
		return nil, adapter.Wrap(s.cfg.Name, "get", id, err)
	}
	return u, nil
}

// Delete drops the document and outgoing links. The node itself survives as
// a placeholder while other units still link to it.
func (s *Store) Delete(ctx context.Context, id string) error {
	params := map[string]any{"id": id}
	err := s.write(ctx, []statement{
		{cypher: `MATCH (:MemeticUnit {id: $id})-[r:LINK]->() DELETE r`, params: params},
		{cypher: `MATCH (u:MemeticUnit {id: $id}) REMOVE u.data, u.status, u.content_hash, u.cognitive_type`, params: params},
		{cypher: `MATCH (u:MemeticUnit {id: $id}) WHERE NOT (u)<-[:LINK]-() DELETE u`, params: params},
	})
	return adapter.Wrap(s.cfg.Name, "delete", id, err)
}

func (s *Store) Search(ctx context.Context, q adapter.Query) memetic.Seq {
	return adapter.FromSlice(func() ([]*memetic.Unit, error) {
		if len(q.Vector) > 0 {
			return nil, adapter.Wrap(s.cfg.Name, "search", "", adapter.ErrNotSupported)
		}
		cypher, params := searchCypher(q)
		docs, err := s.readStrings(ctx, cypher, params, "data")
		if err != nil {
			return nil, adapter.Wrap(s.cfg.Name, "search", "", err)
		}
		var units []*memetic.Unit
		for _, doc := range docs {
			u, err := decode(doc)
			if err != nil {
				return nil, adapter.Wrap(s.cfg.Name, "search", "", err)
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
	})
}

func searchCypher(q adapter.Query) (string, map[string]any) {
	statuses := make([]string, len(q.Statuses))
	for i, st := range q.Statuses {
		statuses[i] = string(st)
	}
	return `MATCH (u:MemeticUnit)
		WHERE u.data IS NOT NULL
			AND ($hash = '' OR u.content_hash = $hash)
			AND (size($statuses) = 0 OR u.status IN $statuses)
		RETURN u.data AS data
		ORDER BY u.id`,
		map[string]any{"hash": q.ContentHash, "statuses": statuses}
}

func (s *Store) Neighbors(ctx context.Context, id string, depth int) ([]string, error) {
	ids, err := s.readStrings(ctx, neighborsCypher(depth), map[string]any{"id": id}, "id")
	return ids, adapter.Wrap(s.cfg.Name, "neighbors", id, err)
}

func neighborsCypher(depth int) string {
	if depth <= 0 {
		depth = 1
	}
	return fmt.Sprintf(`MATCH path = (:MemeticUnit {id: $id})-[:LINK*1..%d]->(n:MemeticUnit)
		WHERE n.id <> $id
		WITH n.id AS id, min(length(path)) AS hops
		RETURN id ORDER BY hops, id`, depth)
}

func (s *Store) Backlinks(ctx context.Context, id string) ([]string, error) {
	ids, err := s.readStrings(ctx,
		`MATCH (f:MemeticUnit)-[:LINK]->(:MemeticUnit {id: $id}) RETURN DISTINCT f.id AS id ORDER BY id`,
		map[string]any{"id": id}, "id")
	return ids, adapter.Wrap(s.cfg.Name, "backlinks", id, err)
}

func (s *Store) Ping(ctx context.Context) error {
	return adapter.Wrap(s.cfg.Name, "ping", "", s.driver.VerifyConnectivity(ctx))
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.driver.Close(ctx)
}

func decode(doc string) (*memetic.Unit, error) {
	var u memetic.Unit
	if err := json.Unmarshal([]byte(doc), &u); err != nil {
		return nil, fmt.Errorf("decode unit: %w", err)
	}
	return &u, nil
}
