package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appDir     = ".memcore"
	configFile = "memcore.json"
	envPrefix  = "MEMCORE"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. Environment variables prefixed
// with MEMCORE_ override scalar settings, e.g. MEMCORE_LOGGING_LEVEL.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := newViper()

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	// Unmarshal into a zero config: decoding over populated slices keeps
	// stale elements, so list defaults are applied afterwards.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper returns a viper instance with every scalar default registered so
// AutomaticEnv can see the keys.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("data_dir", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)
	v.SetDefault("logging.console", d.Logging.Console)

	v.SetDefault("sync.adapter_timeout", d.Sync.AdapterTimeout)
	v.SetDefault("sync.query_cache_max_cost", d.Sync.QueryCacheMaxCost)
	v.SetDefault("sync.redirect_depth", d.Sync.RedirectDepth)
	v.SetDefault("sync.conflict_log_size", d.Sync.ConflictLogSize)

	g := d.Governance
	v.SetDefault("governance.schedule", g.Schedule)
	v.SetDefault("governance.sweep_timeout", g.SweepTimeout)
	v.SetDefault("governance.decay_period", g.DecayPeriod)
	v.SetDefault("governance.decay_rate", g.DecayRate)
	v.SetDefault("governance.frequency_weight", g.FrequencyWeight)
	v.SetDefault("governance.link_weight", g.LinkWeight)
	v.SetDefault("governance.low_water", g.LowWater)
	v.SetDefault("governance.min_retention", g.MinRetention)
	v.SetDefault("governance.access_boost", g.AccessBoost)
	v.SetDefault("governance.reactivation_boost", g.ReactivationBoost)
	v.SetDefault("governance.reactivation_threshold", g.ReactivationThreshold)

	v.SetDefault("quota.max_units", d.Quota.MaxUnits)
	v.SetDefault("quota.count_archived", d.Quota.CountArchived)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)

	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.path", "")
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.max_bytes", d.Watch.MaxBytes)
	v.SetDefault("watch.chunk_size", d.Watch.ChunkSize)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)

	return v
}

// applyDefaults fills list and map settings left empty and derives paths
// from the data directory.
func applyDefaults(cfg *Config) error {
	d := DefaultConfig()

	if len(cfg.Cache.Layers) == 0 {
		cfg.Cache.Layers = d.Cache.Layers
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = d.Backends
	}
	if cfg.Routing.RecordStore == "" && len(cfg.Routing.Routes) == 0 {
		cfg.Routing = d.Routing
	}
	if len(cfg.Watch.Extensions) == 0 {
		cfg.Watch.Extensions = d.Watch.Extensions
	}

	// Viper lowercases map keys.
	if len(cfg.Routing.Routes) > 0 {
		routes := make(map[string]RouteConfig, len(cfg.Routing.Routes))
		for k, r := range cfg.Routing.Routes {
			routes[strings.ToUpper(k)] = r
		}
		cfg.Routing.Routes = routes
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDir)
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "memcore.log")
	}
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("logging", cfg.Logging)
	v.Set("cache", cfg.Cache)
	v.Set("backends", cfg.Backends)
	v.Set("routing", cfg.Routing)
	v.Set("sync", cfg.Sync)
	v.Set("governance", cfg.Governance)
	v.Set("quota", cfg.Quota)
	v.Set("embedding", cfg.Embedding)
	v.Set("watch", cfg.Watch)
	v.Set("metrics", cfg.Metrics)
	v.Set("tracing", cfg.Tracing)

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, appDir, configFile)
}

// ResolvePath joins relative backend paths to the data directory.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
