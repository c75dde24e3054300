package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs a sweep at the top of every hour.
const DefaultSchedule = "@hourly"

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a five-field cron expression or a descriptor such
// as "@every 30m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Run is the outcome of one scheduled run.
type Run struct {
	At        time.Time
	Sweep     SweepReport
	Reconcile int
	Err       error
}

// Scheduler runs sweep + reconciliation on a cron schedule. A run that is
// still going when the next one is due causes that one to be skipped.
type Scheduler struct {
	engine  *Engine
	cron    *cron.Cron
	entry   cron.EntryID
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	last *Run
}

// NewScheduler registers the governance job. timeout bounds a single run;
// zero means no bound.
func NewScheduler(engine *Engine, spec string, timeout time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := ParseSchedule(spec); err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "governance-scheduler").Logger()
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		engine:  engine,
		timeout: timeout,
		logger:  logger,
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	id, err := s.cron.AddFunc(spec, func() { s.RunNow(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("failed to schedule governance: %w", err)
	}
	s.entry = id
	return s, nil
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Time("next", s.Next()).Msg("Governance scheduler started")
}

// Stop halts scheduling and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Last returns the most recent run, if any.
func (s *Scheduler) Last() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// RunNow sweeps and reconciles once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context) Run {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	run := Run{At: time.Now()}
	run.Sweep, run.Err = s.engine.Sweep(ctx)
	if run.Err != nil {
		s.logger.Error().Err(run.Err).Msg("Governance sweep failed")
	}
	rec, err := s.engine.Reconcile(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Reconciliation failed")
		if run.Err == nil {
			run.Err = err
		}
	}
	run.Reconcile = rec.Repaired

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
	return run
}
