package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memcore/internal/config"
	"github.com/harun/memcore/pkg/memetic"
)

func TestOpenBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested")
	cfg.Backends = append(cfg.Backends, config.BackendConfig{Name: "scratch", Kind: config.BackendMemory})

	backends, err := OpenBackends(context.Background(), cfg, 8, zerolog.Nop())
	require.NoError(t, err)
	defer func() {
		for _, b := range backends {
			_ = b.Close()
		}
	}()

	require.Len(t, backends, 4)
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	assert.Equal(t, []string{"documents", "vectors", "graph", "scratch"}, names)

	_, err = os.Stat(filepath.Join(cfg.DataDir, "memcore.db"))
	assert.NoError(t, err, "relative paths resolve against the data directory")
}

func TestOpenBackends_UnknownKind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backends = []config.BackendConfig{
		{Name: "records", Kind: config.BackendMemory},
		{Name: "bad", Kind: "cassandra"},
	}

	_, err := OpenBackends(context.Background(), cfg, 0, zerolog.Nop())
	assert.ErrorContains(t, err, "bad")
}

func TestRouting(t *testing.T) {
	r, err := Routing(config.RoutingConfig{
		RecordStore: "documents",
		Routes: map[string]config.RouteConfig{
			"semantic": {Backends: []string{"vectors"}, Primary: "vectors"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "documents", r.RecordStore)
	assert.Equal(t, "vectors", r.Routes[memetic.CognitiveSemantic].Primary)

	_, err = Routing(config.RoutingConfig{
		RecordStore: "documents",
		Routes:      map[string]config.RouteConfig{"dreams": {}},
	})
	assert.Error(t, err)
}
