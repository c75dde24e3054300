package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/memcore/internal/config"
	"github.com/harun/memcore/internal/logger"
	"github.com/harun/memcore/internal/metrics"
	"github.com/harun/memcore/internal/observability"
	"github.com/harun/memcore/internal/tracing"
	"github.com/harun/memcore/pkg/cache"
	"github.com/harun/memcore/pkg/governance"
	"github.com/harun/memcore/pkg/memory"
	"github.com/harun/memcore/pkg/syncmgr"
)

// Daemon runs the memory core as a long-lived service: scheduled
// governance, the metrics endpoint and the optional file watcher.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core
	service   *memory.Service
	scheduler *governance.Scheduler

	// Services
	metrics       *metrics.Metrics
	metricsServer *http.Server
	metricsAddr   string
	ingester      *memory.FileIngester
	watcher       *memory.FileWatcher

	// Internal
	eventLoop *EventLoop
	pidFile   *PIDFile

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance and opens the configured backends.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.NewMetrics(),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		_ = d.service.Close()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d, DefaultObserveInterval)
	d.pidFile = NewPIDFile(cfg.DataDir)

	return d, nil
}

// initializeCoreModules opens the memory service and the governance schedule
func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := observability.InitAuditLogger(filepath.Join(d.config.DataDir, "audit.log")); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to open audit log, auditing to stderr")
	}

	svc, err := OpenService(d.ctx, d.config, d.logger.GetZerolog())
	if err != nil {
		return err
	}
	d.service = svc

	sched, err := governance.NewScheduler(svc.Engine(), d.config.Governance.Schedule,
		d.config.Governance.SweepTimeout, d.logger.Component("governance"))
	if err != nil {
		_ = svc.Close()
		return err
	}
	d.scheduler = sched

	return nil
}

// initializeServices prepares the metrics endpoint and the file watcher
func (d *Daemon) initializeServices() error {
	if d.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		mux.HandleFunc("/healthz", d.handleHealth)
		d.metricsServer = &http.Server{
			Addr:              d.config.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if d.config.Watch.Enabled {
		ingester, err := memory.NewFileIngester(d.service, d.config.Watch.Path, memory.FileOptions{
			Extensions: d.config.Watch.Extensions,
			MaxBytes:   d.config.Watch.MaxBytes,
			ChunkSize:  d.config.Watch.ChunkSize,
		})
		if err != nil {
			return fmt.Errorf("failed to create file ingester: %w", err)
		}
		d.ingester = ingester
	}

	return nil
}

// OpenService builds the memory service described by cfg: backends, cache,
// synchronization manager, governance engine and embedding provider.
func OpenService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*memory.Service, error) {
	embedder, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	dimension := 0
	if embedder != nil {
		dimension = embedder.Dimension()
	}

	routing, err := Routing(cfg.Routing)
	if err != nil {
		return nil, err
	}

	tiers, err := cache.New(cfg.Cache.Layers, cache.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	backends, err := OpenBackends(ctx, cfg, dimension, log)
	if err != nil {
		return nil, err
	}

	mgr, err := syncmgr.New(syncmgr.Config{
		Routing:           routing,
		Adapters:          backends,
		Cache:             tiers,
		AdapterTimeout:    cfg.Sync.AdapterTimeout,
		QueryCacheMaxCost: cfg.Sync.QueryCacheMaxCost,
		RedirectDepth:     cfg.Sync.RedirectDepth,
		ConflictLogSize:   cfg.Sync.ConflictLogSize,
		Logger:            log,
	})
	if err != nil {
		for _, a := range backends {
			_ = a.Close()
		}
		return nil, fmt.Errorf("failed to create sync manager: %w", err)
	}

	g := cfg.Governance
	engine := governance.NewEngine(mgr, nil, governance.Config{
		Policy: governance.Policy{
			Period:          g.DecayPeriod,
			Rate:            g.DecayRate,
			FrequencyWeight: g.FrequencyWeight,
			LinkWeight:      g.LinkWeight,
		},
		LowWater:              g.LowWater,
		MinRetention:          g.MinRetention,
		AccessBoost:           g.AccessBoost,
		ReactivationBoost:     g.ReactivationBoost,
		ReactivationThreshold: g.ReactivationThreshold,
		Logger:                log,
	})

	svc, err := memory.New(memory.Config{
		Manager:           mgr,
		Engine:            engine,
		EmbeddingProvider: embedder,
		Quota: memory.Quota{
			MaxUnits:      cfg.Quota.MaxUnits,
			CountArchived: cfg.Quota.CountArchived,
		},
		Logger: log,
	})
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return svc, nil
}

// NewEmbedder returns the configured embedding provider, or nil for none.
func NewEmbedder(cfg config.EmbeddingConfig) (memory.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "", config.EmbeddingNone:
		return nil, nil
	case config.EmbeddingMock:
		return memory.NewMockProvider(cfg.Dimension), nil
	case config.EmbeddingOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedding provider requires an API key")
		}
		return memory.NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting memcore daemon")

	if err := d.pidFile.Acquire(); err != nil {
		d.setStopped()
		return err
	}
	logger.Info().Str("pid_file", d.pidFile.Path()).Int("pid", os.Getpid()).Msg("PID file acquired")

	if d.metricsServer != nil {
		ln, err := net.Listen("tcp", d.metricsServer.Addr)
		if err != nil {
			_ = d.pidFile.Release()
			d.setStopped()
			return fmt.Errorf("failed to listen on %s: %w", d.metricsServer.Addr, err)
		}
		d.mu.Lock()
		d.metricsAddr = ln.Addr().String()
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", d.metricsAddr).Msg("Metrics server started")
	}

	if d.ingester != nil {
		report, err := d.ingester.IngestDir(d.ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Initial file ingestion failed")
		} else {
			logger.Info().
				Int("files", report.Files).
				Int("units", report.Units).
				Int("failed", report.Failed).
				Msg("Initial file ingestion complete")
		}

		watcher, err := memory.NewFileWatcher(d.ingester, d.config.Watch.Debounce,
			d.config.Sync.AdapterTimeout*4, d.logger.Component("watcher"))
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to start file watcher")
		} else {
			d.watcher = watcher
			logger.Info().Str("path", d.ingester.Root()).Msg("File watcher started")
		}
	}

	d.scheduler.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started successfully")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping memcore daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop file watcher")
		}
	}

	// Let a running sweep finish, within bounds.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	if err := d.scheduler.Stop(stopCtx); err != nil {
		logger.Warn().Err(err).Msg("Timeout waiting for governance run to finish")
	}
	cancelStop()
	logger.Info().Msg("Governance scheduler stopped")

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
		cancel()
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.pidFile.Release(); err != nil {
		logger.Error().Err(err).Msg("Failed to release PID file")
	}

	if err := d.service.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close memory service")
	}

	d.shutdownTracing()

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	for name, status := range d.service.Manager().Status() {
		if status != syncmgr.BackendAvailable {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "backend %s degraded\n", name)
			return
		}
	}
	fmt.Fprintln(w, "ok")
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:     d.running,
		MetricsAddr: d.metricsAddr,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.NextSweep = d.scheduler.Next()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetService returns the memory service
func (d *Daemon) GetService() *memory.Service {
	return d.service
}

// GetMetrics returns the state gauges
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}

// Status represents daemon status
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	NextSweep   time.Time
	MetricsAddr string
}
