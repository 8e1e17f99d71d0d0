package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrFlushInProgress is returned when a flush is already running, here or
	// on another instance holding the shared lock.
	ErrFlushInProgress = errors.New("outbox flush already in progress")

	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	DefaultFlushInterval = 10 * time.Second
	DefaultLockTTL       = 60 * time.Second
	flushLockKey         = "outbox:flush"
)

// Flusher is the flush operation the scheduler drives.
type Flusher interface {
	FlushOutboxRecords(ctx context.Context) (int, error)
	Count(ctx context.Context) (int64, error)
}

// Locker serializes flushes across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// LockHeldFunc reports whether err means another holder owns the shared lock.
type LockHeldFunc func(err error) bool

type SchedulerConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// Scheduler runs flushes on a ticker and on demand.
type Scheduler struct {
	flusher  Flusher
	locker   Locker
	lockHeld LockHeldFunc
	config   SchedulerConfig
	logger   ectologger.Logger

	trigger  chan struct{}
	flushMu  sync.Mutex
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewScheduler builds a scheduler. locker may be nil, in which case only
// in-process serialization applies.
func NewScheduler(flusher Flusher, locker Locker, lockHeld LockHeldFunc, config SchedulerConfig, logger ectologger.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultFlushInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if lockHeld == nil {
		lockHeld = func(error) bool { return false }
	}
	return &Scheduler{
		flusher:  flusher,
		locker:   locker,
		lockHeld: lockHeld,
		config:   config,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true

	s.logger.WithContext(ctx).Infof("Starting outbox flush scheduler: interval=%s", s.config.Interval)
	go s.loop(context.WithoutCancel(ctx))
	return nil
}

// Stop waits for an in-flight flush to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Outbox flush scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Outbox flush scheduler shutdown timed out")
		return ctx.Err()
	}
}

// Trigger requests a flush without waiting for it. Requests made while one is
// pending are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-s.trigger:
		}

		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrFlushInProgress) {
			s.logger.WithContext(ctx).WithError(err).Error("Scheduled outbox flush failed")
		}
	}
}

// RunOnce performs one complete flush and returns the number of rows removed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.Scheduler.RunOnce")
	defer span.End()

	if !s.flushMu.TryLock() {
		return 0, ErrFlushInProgress
	}
	defer s.flushMu.Unlock()

	var removed int
	flush := func(ctx context.Context) error {
		var err error
		removed, err = s.flusher.FlushOutboxRecords(ctx)
		return err
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, flushLockKey, s.config.LockTTL, flush)
		if err != nil && s.lockHeld(err) {
			return 0, ErrFlushInProgress
		}
	} else {
		err = flush(ctx)
	}

	if pending, countErr := s.flusher.Count(ctx); countErr == nil {
		metrics.OutboxPending.Set(float64(pending))
	}

	if removed > 0 {
		s.logger.WithContext(ctx).WithField("removed", removed).Info("Flushed outbox records")
	}
	return removed, err
}
