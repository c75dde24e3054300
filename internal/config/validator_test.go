package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-proj-123", EmbeddingOpenAI))
	assert.Error(t, v.ValidateAPIKey("", EmbeddingOpenAI))
	assert.Error(t, v.ValidateAPIKey("pk-123", EmbeddingOpenAI))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("@daily"))
	assert.NoError(t, v.ValidateSchedule("@every 15m"))
	assert.NoError(t, v.ValidateSchedule("0 3 * * *"))
	assert.Error(t, v.ValidateSchedule("every tuesday"))
}

func TestValidateBackend(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		backend BackendConfig
		wantErr bool
	}{
		{"memory", BackendConfig{Name: "m", Kind: BackendMemory}, false},
		{"sqlite", BackendConfig{Name: "s", Kind: BackendSQLite, Path: "s.db"}, false},
		{"sqlite without path", BackendConfig{Name: "s", Kind: BackendSQLite}, true},
		{"in-memory chromem", BackendConfig{Name: "c", Kind: BackendChromem}, false},
		{"graph without path", BackendConfig{Name: "g", Kind: BackendGraph}, true},
		{"neo4j", BackendConfig{Name: "n", Kind: BackendNeo4j, URI: "neo4j://localhost:7687"}, false},
		{"neo4j without uri", BackendConfig{Name: "n", Kind: BackendNeo4j}, true},
		{"unnamed", BackendConfig{Kind: BackendMemory}, true},
		{"unknown kind", BackendConfig{Name: "x", Kind: "redis"}, true},
		{"negative dimension", BackendConfig{Name: "m", Kind: BackendMemory, Dimension: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBackend(tt.backend)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRouting(t *testing.T) {
	v := NewValidator()
	backends := []BackendConfig{
		{Name: "records", Kind: BackendMemory},
		{Name: "vectors", Kind: BackendChromem},
	}

	t.Run("valid", func(t *testing.T) {
		errs := v.ValidateRouting(RoutingConfig{
			RecordStore: "records",
			Routes: map[string]RouteConfig{
				"semantic": {Backends: []string{"vectors"}, Primary: "vectors"},
				"EPISODIC": {Primary: "records"},
			},
		}, backends)
		assert.Empty(t, errs)
	})

	t.Run("unknown cognitive type", func(t *testing.T) {
		errs := v.ValidateRouting(RoutingConfig{
			RecordStore: "records",
			Routes:      map[string]RouteConfig{"DREAMS": {}},
		}, backends)
		assert.Len(t, errs, 1)
	})

	t.Run("primary outside the route", func(t *testing.T) {
		errs := v.ValidateRouting(RoutingConfig{
			RecordStore: "records",
			Routes:      map[string]RouteConfig{"SEMANTIC": {Primary: "vectors"}},
		}, backends)
		assert.Len(t, errs, 1)
	})

	t.Run("missing record store", func(t *testing.T) {
		errs := v.ValidateRouting(RoutingConfig{}, backends)
		assert.Len(t, errs, 1)
	})
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("default config", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("duplicate backend names", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backends = append(cfg.Backends, BackendConfig{Name: "graph", Kind: BackendMemory})
		assert.NotEmpty(t, v.ValidateConfig(cfg))
	})

	t.Run("fractions out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Governance.DecayRate = 1.5
		cfg.Tracing.SampleRatio = -0.1
		assert.Len(t, v.ValidateConfig(cfg), 2)
	})

	t.Run("watch needs a path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Watch.Enabled = true
		assert.Len(t, v.ValidateConfig(cfg), 1)
	})

	t.Run("empty cache", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Layers = nil
		assert.Len(t, v.ValidateConfig(cfg), 1)
	})
}
