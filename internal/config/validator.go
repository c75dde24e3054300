package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/memcore/pkg/memetic"
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case EmbeddingOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a cron spec or descriptor
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil // Use default
	}
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid governance schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateFraction validates a value in [0, 1]
func (v *Validator) ValidateFraction(name string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %g", name, value)
	}
	return nil
}

// ValidateBackend validates one backend entry
func (v *Validator) ValidateBackend(b BackendConfig) error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch b.Kind {
	case BackendMemory:
	case BackendSQLite, BackendGraph:
		if b.Path == "" {
			return fmt.Errorf("%s backend requires a path", b.Kind)
		}
	case BackendChromem:
		// An empty path keeps the collection in memory.
	case BackendNeo4j:
		if b.URI == "" {
			return fmt.Errorf("neo4j backend requires a uri")
		}
	default:
		return fmt.Errorf("invalid kind %q (must be one of: %s)", b.Kind,
			strings.Join([]string{BackendMemory, BackendSQLite, BackendChromem, BackendGraph, BackendNeo4j}, ", "))
	}

	if b.Dimension < 0 {
		return fmt.Errorf("dimension must be >= 0")
	}
	return nil
}

// ValidateRouting checks every routed name against the configured backends
func (v *Validator) ValidateRouting(r RoutingConfig, backends []BackendConfig) []error {
	var errors []error

	known := make(map[string]bool, len(backends))
	for _, b := range backends {
		known[b.Name] = true
	}

	if r.RecordStore == "" {
		errors = append(errors, fmt.Errorf("routing.record_store is required"))
	} else if !known[r.RecordStore] {
		errors = append(errors, fmt.Errorf("routing.record_store %q is not a configured backend", r.RecordStore))
	}

	for key, route := range r.Routes {
		ct := memetic.CognitiveType(strings.ToUpper(key))
		if !ct.Valid() {
			errors = append(errors, fmt.Errorf("routing.routes: unknown cognitive type %q", key))
			continue
		}
		for _, name := range route.Backends {
			if !known[name] {
				errors = append(errors, fmt.Errorf("routing.routes.%s: backend %q is not configured", key, name))
			}
		}
		if route.Primary != "" && route.Primary != r.RecordStore && !slices.Contains(route.Backends, route.Primary) {
			errors = append(errors, fmt.Errorf("routing.routes.%s: primary %q is not in the route", key, route.Primary))
		}
	}

	return errors
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	// Cache
	if len(cfg.Cache.Layers) == 0 {
		errors = append(errors, fmt.Errorf("cache.layers needs at least one layer"))
	}
	for i, capacity := range cfg.Cache.Layers {
		if capacity < 0 {
			errors = append(errors, fmt.Errorf("cache.layers[%d] must be >= 0, got %d", i, capacity))
		}
	}

	// Backends
	if len(cfg.Backends) == 0 {
		errors = append(errors, fmt.Errorf("at least one backend must be configured"))
	}
	seen := make(map[string]bool, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if err := v.ValidateBackend(b); err != nil {
			errors = append(errors, fmt.Errorf("backend %d (%s): %w", i, b.Name, err))
		}
		if b.Name != "" && seen[b.Name] {
			errors = append(errors, fmt.Errorf("backend %d: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = true
	}
	errors = append(errors, v.ValidateRouting(cfg.Routing, cfg.Backends)...)

	// Sync
	if cfg.Sync.AdapterTimeout < 0 {
		errors = append(errors, fmt.Errorf("sync.adapter_timeout must be >= 0"))
	}
	if cfg.Sync.QueryCacheMaxCost < 0 {
		errors = append(errors, fmt.Errorf("sync.query_cache_max_cost must be >= 0"))
	}
	if cfg.Sync.RedirectDepth < 0 {
		errors = append(errors, fmt.Errorf("sync.redirect_depth must be >= 0"))
	}

	// Governance
	g := cfg.Governance
	if err := v.ValidateSchedule(g.Schedule); err != nil {
		errors = append(errors, err)
	}
	if g.DecayPeriod < 0 || g.MinRetention < 0 || g.SweepTimeout < 0 {
		errors = append(errors, fmt.Errorf("governance durations must be >= 0"))
	}
	for name, value := range map[string]float64{
		"governance.decay_rate":             g.DecayRate,
		"governance.low_water":              g.LowWater,
		"governance.access_boost":           g.AccessBoost,
		"governance.reactivation_boost":     g.ReactivationBoost,
		"governance.reactivation_threshold": g.ReactivationThreshold,
	} {
		if err := v.ValidateFraction(name, value); err != nil {
			errors = append(errors, err)
		}
	}
	if g.FrequencyWeight < 0 || g.LinkWeight < 0 {
		errors = append(errors, fmt.Errorf("governance weights must be >= 0"))
	}

	// Quota
	if cfg.Quota.MaxUnits < 0 {
		errors = append(errors, fmt.Errorf("quota.max_units must be >= 0"))
	}

	// Embedding
	switch cfg.Embedding.Provider {
	case "", EmbeddingNone, EmbeddingMock:
	case EmbeddingOpenAI:
		if err := v.ValidateAPIKey(cfg.Embedding.APIKey, EmbeddingOpenAI); err != nil {
			errors = append(errors, fmt.Errorf("embedding: %w", err))
		}
	default:
		errors = append(errors, fmt.Errorf("invalid embedding provider: %s (must be one of: none, openai, mock)", cfg.Embedding.Provider))
	}
	if cfg.Embedding.Dimension < 0 {
		errors = append(errors, fmt.Errorf("embedding.dimension must be >= 0"))
	}

	// Watch
	if cfg.Watch.Enabled && cfg.Watch.Path == "" {
		errors = append(errors, fmt.Errorf("watch.path is required when watching is enabled"))
	}

	// Metrics
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errors = append(errors, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}

	// Tracing
	if err := v.ValidateFraction("tracing.sample_ratio", cfg.Tracing.SampleRatio); err != nil {
		errors = append(errors, err)
	}

	return errors
}
