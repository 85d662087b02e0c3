// Package sweeper persists subscription expiry on a schedule.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pawtrail/walkledger/pkg/logger"
)

const DefaultSchedule = "@every 15m"

var (
	ErrInvalidSchedule = errors.New("invalid sweep schedule")
	ErrAlreadyStarted  = errors.New("sweeper already started")
	ErrSweepInProgress = errors.New("expiry sweep already in progress")
)

// Expirer is implemented by *ledger.Ledger.
type Expirer interface {
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs Expirer.ExpireSweep from a cron schedule and on demand.
// Runs never overlap; a run that would overlap fails with ErrSweepInProgress.
type Sweeper struct {
	expirer Expirer
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration
	observe func(expired int, err error)

	running sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Sweeper)

func WithLogger(log *slog.Logger) Option {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout bounds each scheduled run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithObserver is called after every run, e.g. to record metrics.
func WithObserver(fn func(expired int, err error)) Option {
	return func(s *Sweeper) { s.observe = fn }
}

// New panics if expirer is nil.
func New(expirer Expirer, opts ...Option) *Sweeper {
	if expirer == nil {
		panic("sweeper: Expirer is required")
	}
	s := &Sweeper{
		expirer: expirer,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("sweeper"))
	return s
}

// RunOnce expires every due subscription and returns how many changed.
// Returns ErrSweepInProgress when another run holds the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		s.log.DebugContext(ctx, "sweep already running, skipped")
		return 0, ErrSweepInProgress
	}
	defer s.running.Unlock()

	start := s.now()
	expired, err := s.expirer.ExpireSweep(ctx, start)
	if s.observe != nil {
		s.observe(expired, err)
	}
	if err != nil {
		s.log.ErrorContext(ctx, "expiry sweep failed", logger.Error(err))
		return 0, err
	}
	s.log.InfoContext(ctx, "expiry sweep finished",
		slog.Int("expired", expired),
		slog.Duration("took", s.now().Sub(start)))
	return expired, nil
}

// Start schedules RunOnce. Stop must be called to release the scheduler.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	base := context.WithoutCancel(ctx)
	if _, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(base, s.timeout)
		defer cancel()
		_, _ = s.RunOnce(runCtx)
	}); err != nil {
		return errors.Join(ErrInvalidSchedule, err)
	}

	c.Start()
	s.cron = c
	s.log.InfoContext(ctx, "sweeper started", slog.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep or ctx, whichever
// comes first.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
