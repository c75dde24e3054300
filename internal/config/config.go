package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Backend kinds understood by the runtime.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
	BackendGraph   = "graph"
	BackendNeo4j   = "neo4j"
)

// Embedding providers.
const (
	EmbeddingNone   = "none"
	EmbeddingOpenAI = "openai"
	EmbeddingMock   = "mock"
)

// Config represents the main memcore configuration
type Config struct {
	// Data directory; relative backend paths resolve against it.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tiered cache
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// Storage backends and how units are routed to them
	Backends []BackendConfig `json:"backends" mapstructure:"backends"`
	Routing  RoutingConfig   `json:"routing" mapstructure:"routing"`

	// Synchronization manager
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Governance engine and its schedule
	Governance GovernanceConfig `json:"governance" mapstructure:"governance"`

	// Write admission
	Quota QuotaConfig `json:"quota" mapstructure:"quota"`

	// Embeddings for semantic vectors
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// File ingestion watcher
	Watch WatchConfig `json:"watch" mapstructure:"watch"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// OpenTelemetry tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`   // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	Console    bool   `json:"console" mapstructure:"console"`
}

// CacheConfig lists layer capacities from fastest to slowest.
type CacheConfig struct {
	Layers []int `json:"layers" mapstructure:"layers"`
}

// BackendConfig describes one storage backend
type BackendConfig struct {
	Name       string `json:"name" mapstructure:"name"`
	Kind       string `json:"kind" mapstructure:"kind"` // memory, sqlite, chromem, graph, neo4j
	Path       string `json:"path,omitempty" mapstructure:"path"`
	URI        string `json:"uri,omitempty" mapstructure:"uri"`
	Username   string `json:"username,omitempty" mapstructure:"username"`
	Password   string `json:"password,omitempty" mapstructure:"password"`
	Database   string `json:"database,omitempty" mapstructure:"database"`
	Collection string `json:"collection,omitempty" mapstructure:"collection"`
	Dimension  int    `json:"dimension,omitempty" mapstructure:"dimension"`
}

// RoutingConfig names the store-of-record and the extra backends per
// cognitive type. Route keys are case-insensitive.
type RoutingConfig struct {
	RecordStore string                 `json:"record_store" mapstructure:"record_store"`
	Routes      map[string]RouteConfig `json:"routes" mapstructure:"routes"`
}

// RouteConfig lists the backends a cognitive type is written to.
type RouteConfig struct {
	Backends []string `json:"backends" mapstructure:"backends"`
	Primary  string   `json:"primary,omitempty" mapstructure:"primary"`
}

// SyncConfig holds synchronization manager settings
type SyncConfig struct {
	AdapterTimeout    time.Duration `json:"adapter_timeout" mapstructure:"adapter_timeout"`
	QueryCacheMaxCost int64         `json:"query_cache_max_cost" mapstructure:"query_cache_max_cost"`
	RedirectDepth     int           `json:"redirect_depth" mapstructure:"redirect_depth"`
	ConflictLogSize   int           `json:"conflict_log_size" mapstructure:"conflict_log_size"`
}

// GovernanceConfig holds decay policy and sweep schedule
type GovernanceConfig struct {
	Schedule              string        `json:"schedule" mapstructure:"schedule"`
	SweepTimeout          time.Duration `json:"sweep_timeout" mapstructure:"sweep_timeout"`
	DecayPeriod           time.Duration `json:"decay_period" mapstructure:"decay_period"`
	DecayRate             float64       `json:"decay_rate" mapstructure:"decay_rate"`
	FrequencyWeight       float64       `json:"frequency_weight" mapstructure:"frequency_weight"`
	LinkWeight            float64       `json:"link_weight" mapstructure:"link_weight"`
	LowWater              float64       `json:"low_water" mapstructure:"low_water"`
	MinRetention          time.Duration `json:"min_retention" mapstructure:"min_retention"`
	AccessBoost           float64       `json:"access_boost" mapstructure:"access_boost"`
	ReactivationBoost     float64       `json:"reactivation_boost" mapstructure:"reactivation_boost"`
	ReactivationThreshold float64       `json:"reactivation_threshold" mapstructure:"reactivation_threshold"`
}

// QuotaConfig holds write admission limits
type QuotaConfig struct {
	MaxUnits      int  `json:"max_units" mapstructure:"max_units"` // 0 = unlimited
	CountArchived bool `json:"count_archived" mapstructure:"count_archived"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // none, openai, mock
	Model     string `json:"model" mapstructure:"model"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
}

// WatchConfig holds file ingestion settings
type WatchConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Path       string        `json:"path" mapstructure:"path"`
	Extensions []string      `json:"extensions" mapstructure:"extensions"`
	Debounce   time.Duration `json:"debounce" mapstructure:"debounce"`
	MaxBytes   int64         `json:"max_bytes" mapstructure:"max_bytes"`
	ChunkSize  int           `json:"chunk_size" mapstructure:"chunk_size"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values. Backend paths are
// relative to DataDir.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
			Console:    true,
		},
		Cache: CacheConfig{
			Layers: []int{256, 2048},
		},
		Backends: DefaultBackends(),
		Routing:  DefaultRouting(),
		Sync: SyncConfig{
			AdapterTimeout:    5 * time.Second,
			QueryCacheMaxCost: 10000,
			RedirectDepth:     8,
			ConflictLogSize:   100,
		},
		Governance: GovernanceConfig{
			Schedule:          "@hourly",
			SweepTimeout:      10 * time.Minute,
			DecayPeriod:       24 * time.Hour,
			DecayRate:         0.05,
			FrequencyWeight:   0.5,
			LinkWeight:        0.1,
			LowWater:          0.1,
			MinRetention:      24 * time.Hour,
			AccessBoost:       0.05,
			ReactivationBoost: 0.3,
		},
		Embedding: EmbeddingConfig{
			Provider: EmbeddingNone,
			Model:    "text-embedding-3-small",
		},
		Watch: WatchConfig{
			Extensions: []string{".md", ".txt"},
			Debounce:   500 * time.Millisecond,
			MaxBytes:   1 << 20,
			ChunkSize:  1000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "memcore",
			SampleRatio: 1,
		},
	}
}

// DefaultBackends is a sqlite document store of record, a chromem vector
// store and a sqlite graph store.
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{Name: "documents", Kind: BackendSQLite, Path: "memcore.db"},
		{Name: "vectors", Kind: BackendChromem, Path: "vectors"},
		{Name: "graph", Kind: BackendGraph, Path: "graph.db"},
	}
}

// DefaultRouting sends SEMANTIC units to the vector store and everything
// with provenance worth walking to the graph.
func DefaultRouting() RoutingConfig {
	return RoutingConfig{
		RecordStore: "documents",
		Routes: map[string]RouteConfig{
			"SEMANTIC":   {Backends: []string{"vectors", "graph"}, Primary: "vectors"},
			"EPISODIC":   {Backends: []string{"graph"}},
			"PROCEDURAL": {Backends: []string{"graph"}},
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "***"
	}
	masked.Backends = make([]BackendConfig, len(c.Backends))
	for i, b := range c.Backends {
		if b.Password != "" {
			b.Password = "***"
		}
		masked.Backends[i] = b
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// Backend returns the backend named name.
func (c *Config) Backend(name string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendConfig{}, false
}
