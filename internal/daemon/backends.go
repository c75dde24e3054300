package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/memcore/internal/config"
	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/adapter/chromemstore"
	"github.com/harun/memcore/pkg/adapter/graphstore"
	"github.com/harun/memcore/pkg/adapter/memstore"
	"github.com/harun/memcore/pkg/adapter/neo4jstore"
	"github.com/harun/memcore/pkg/adapter/sqlitestore"
	"github.com/harun/memcore/pkg/memetic"
	"github.com/harun/memcore/pkg/syncmgr"
)

// OpenBackends opens every configured backend in order. On failure the
// backends opened so far are closed again. dimension sizes vector indexes
// that do not set their own.
func OpenBackends(ctx context.Context, cfg *config.Config, dimension int, log zerolog.Logger) ([]adapter.Adapter, error) {
	opened := make([]adapter.Adapter, 0, len(cfg.Backends))
	closeAll := func() {
		for _, a := range opened {
			_ = a.Close()
		}
	}

	for _, b := range cfg.Backends {
		a, err := openBackend(ctx, cfg, b, dimension, log)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to open backend %s: %w", b.Name, err)
		}
		log.Info().
			Str("backend", b.Name).
			Str("kind", b.Kind).
			Msg("Backend opened")
		opened = append(opened, a)
	}
	return opened, nil
}

func openBackend(ctx context.Context, cfg *config.Config, b config.BackendConfig, dimension int, log zerolog.Logger) (adapter.Adapter, error) {
	path := cfg.ResolvePath(b.Path)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create backend directory: %w", err)
		}
	}
	if b.Dimension > 0 {
		dimension = b.Dimension
	}
	logger := log.With().Str("backend", b.Name).Logger()

	switch b.Kind {
	case config.BackendMemory:
		return memstore.New(b.Name), nil
	case config.BackendSQLite:
		return sqlitestore.New(sqlitestore.Config{
			Name:      b.Name,
			Path:      path,
			Dimension: dimension,
			Logger:    logger,
		})
	case config.BackendChromem:
		return chromemstore.New(chromemstore.Config{
			Name:       b.Name,
			Path:       path,
			Collection: b.Collection,
			Logger:     logger,
		})
	case config.BackendGraph:
		return graphstore.New(graphstore.Config{
			Name:   b.Name,
			Path:   path,
			Logger: logger,
		})
	case config.BackendNeo4j:
		return neo4jstore.New(ctx, neo4jstore.Config{
			Name:     b.Name,
			URI:      b.URI,
			Username: b.Username,
			Password: b.Password,
			Database: b.Database,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown backend kind %q", b.Kind)
	}
}

// Routing converts the routing section into the manager's routing table.
func Routing(cfg config.RoutingConfig) (syncmgr.Routing, error) {
	r := syncmgr.Routing{
		RecordStore: cfg.RecordStore,
		Routes:      make(map[memetic.CognitiveType]syncmgr.Route, len(cfg.Routes)),
	}
	var errs []error
	for key, route := range cfg.Routes {
		ct := memetic.CognitiveType(strings.ToUpper(key))
		if !ct.Valid() {
			errs = append(errs, fmt.Errorf("unknown cognitive type %q", key))
			continue
		}
		r.Routes[ct] = syncmgr.Route{Backends: route.Backends, Primary: route.Primary}
	}
	return r, errors.Join(errs...)
}
