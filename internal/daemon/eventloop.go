package daemon

import (
	"context"
	"time"

	"github.com/harun/memcore/pkg/syncmgr"
)

// DefaultObserveInterval is how often the event loop refreshes the state
// gauges.
const DefaultObserveInterval = 30 * time.Second

// EventLoop handles periodic maintenance between governance runs
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration

	lastSweep time.Time
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon, interval time.Duration) *EventLoop {
	if interval <= 0 {
		interval = DefaultObserveInterval
	}
	return &EventLoop{
		daemon:   d,
		interval: interval,
	}
}

// Run runs the event loop with periodic maintenance tasks
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Dur("interval", e.interval).Msg("Event loop started")

	e.processTasks(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks refreshes metrics and retries queued reconciliation
func (e *EventLoop) processTasks(ctx context.Context) {
	svc := e.daemon.service

	if run, ok := e.daemon.scheduler.Last(); ok && run.At.After(e.lastSweep) {
		e.lastSweep = run.At
		e.daemon.metrics.ObserveSweep(run.Sweep, run.At)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.daemon.logger.Warn().Err(err).Msg("Failed to collect memory stats")
		}
		return
	}
	e.daemon.metrics.Observe(stats)

	// Queued divergence is retried every tick.
	if stats.Sync.Pending > 0 {
		report, err := svc.Reconcile(ctx)
		if err != nil {
			e.daemon.logger.Warn().Err(err).Msg("Reconciliation failed")
			return
		}
		e.daemon.logger.Debug().
			Int("repaired", report.Repaired).
			Int("pending", report.Pending).
			Msg("Reconciliation pass")
	}

	degraded := 0
	for _, status := range stats.Sync.Backends {
		if status != syncmgr.BackendAvailable {
			degraded++
		}
	}
	if degraded > 0 {
		e.daemon.logger.Warn().Int("degraded", degraded).Msg("Backends degraded")
	}
}
