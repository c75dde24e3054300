package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, DefaultBackends(), cfg.Backends)
		assert.Equal(t, DefaultRouting(), cfg.Routing)
		assert.Equal(t, "@hourly", cfg.Governance.Schedule)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + tmpDir + `",
			"backends": [
				{"name": "records", "kind": "memory"}
			],
			"routing": {
				"record_store": "records",
				"routes": {"semantic": {"backends": ["records"]}}
			},
			"sync": {"adapter_timeout": "2s"},
			"governance": {"decay_rate": 0.2, "schedule": "*/5 * * * *"},
			"quota": {"max_units": 50}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, tmpDir, cfg.DataDir)
		require.Len(t, cfg.Backends, 1, "file backends replace the defaults")
		assert.Equal(t, BackendMemory, cfg.Backends[0].Kind)
		assert.Contains(t, cfg.Routing.Routes, "SEMANTIC")
		assert.Equal(t, 2*time.Second, cfg.Sync.AdapterTimeout)
		assert.Equal(t, 0.2, cfg.Governance.DecayRate)
		assert.Equal(t, "*/5 * * * *", cfg.Governance.Schedule)
		assert.Equal(t, 50, cfg.Quota.MaxUnits)

		// Untouched settings keep their defaults.
		assert.Equal(t, 24*time.Hour, cfg.Governance.DecayPeriod)
		assert.Equal(t, []int{256, 2048}, cfg.Cache.Layers)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("environment overrides", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv("MEMCORE_LOGGING_LEVEL", "debug")
		t.Setenv("MEMCORE_SYNC_ADAPTER_TIMEOUT", "750ms")
		t.Setenv("MEMCORE_QUOTA_MAX_UNITS", "12")

		cfg, err := NewLoader(filepath.Join(tmpDir, "none.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 750*time.Millisecond, cfg.Sync.AdapterTimeout)
		assert.Equal(t, 12, cfg.Quota.MaxUnits)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"quota": {"max_units": 1}}`), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "memcore.log"), cfg.Logging.File)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		cfg := DefaultConfig()
		cfg.DataDir = tmpDir
		cfg.Quota.MaxUnits = 99
		cfg.Governance.MinRetention = 2 * time.Hour
		cfg.Embedding.Provider = EmbeddingMock

		require.NoError(t, NewLoader(configPath).Save(cfg))

		_, err := os.Stat(configPath)
		require.NoError(t, err)

		loaded, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 99, loaded.Quota.MaxUnits)
		assert.Equal(t, 2*time.Hour, loaded.Governance.MinRetention)
		assert.Equal(t, EmbeddingMock, loaded.Embedding.Provider)
		assert.Equal(t, cfg.Backends, loaded.Backends)
		assert.Equal(t, cfg.Routing, loaded.Routing)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		require.NoError(t, NewLoader(configPath).Save(DefaultConfig()))

		_, err := os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		assert.Equal(t, "/custom/path/config.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		path := NewLoader("").GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".memcore")
	})
}
