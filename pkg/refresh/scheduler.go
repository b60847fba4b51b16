package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shardswap/pkg"
)

const (
	// DefaultInterval is the base polling cadence. The ticker itself is
	// never paused; backoff works by skipping polls.
	DefaultInterval = 30 * time.Second

	// BaseBackoff and MaxBackoff bound the failure backoff window.
	BaseBackoff = time.Second
	MaxBackoff  = 30 * time.Second

	// StaleThreshold marks registry data old enough to warn about. It is
	// tuned independently of the state cache TTL.
	StaleThreshold = 60 * time.Second

	// AbsenceThreshold is how long the consumer must have been away
	// before reserves are assumed to have drifted beyond tolerance.
	AbsenceThreshold = 5 * time.Minute
)

// ErrRefreshInProgress is returned when a manual refresh overlaps an
// in-flight one.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// escalation tiers by consecutive failure count: the first two stay
// silent, the third warns, everything after is a persistent error.
const (
	warningTier = 3
	errorTier   = 4
)

// RefreshFunc performs one full registry refresh.
type RefreshFunc func(ctx context.Context) error

// CacheClearer is the slice of the state cache the scheduler may touch.
// It never mutates entries, only requests invalidation.
type CacheClearer interface {
	Clear()
}

// ErrorRecoveryState tracks consecutive refresh failures and the backoff
// window they imply. Reset to base on any success.
type ErrorRecoveryState struct {
	ConsecutiveFailures int
	LastFailureTime     time.Time
	BackoffDelay        time.Duration
	MaxBackoffDelay     time.Duration
	LastSuccess         time.Time
}

// Scheduler keeps the shard registry fresh in the background: poll on a
// fixed interval, back off exponentially while failures are consecutive,
// and escalate to the notifier only when failures persist.
type Scheduler struct {
	refresh  RefreshFunc
	cache    CacheClearer
	notifier pkg.Notifier
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time

	inProgress atomic.Bool

	mu    sync.Mutex
	state ErrorRecoveryState
}

func NewScheduler(refresh RefreshFunc, cache CacheClearer, notifier pkg.Notifier, log *zap.Logger) *Scheduler {
	if notifier == nil {
		notifier = pkg.NopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		refresh:  refresh,
		cache:    cache,
		notifier: notifier,
		log:      log,
		interval: DefaultInterval,
		now:      time.Now,
		state: ErrorRecoveryState{
			BackoffDelay:    BaseBackoff,
			MaxBackoffDelay: MaxBackoff,
		},
	}
}

// Run performs an immediate initial load, then polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.attempt(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one scheduled refresh attempt. Inside an active backoff
// window it is a no-op: no RPC call, no state change.
func (s *Scheduler) Poll(ctx context.Context) {
	if remaining, active := s.backoffRemaining(); active {
		s.log.Debug("poll skipped, inside backoff window",
			zap.Duration("remaining", remaining))
		return
	}
	s.attempt(ctx)
}

// ManualRefresh bypasses scheduling but not correctness: a user-initiated
// refresh always attempts the call, even inside a backoff window. The
// refresh error, if any, is surfaced rather than swallowed.
func (s *Scheduler) ManualRefresh(ctx context.Context) error {
	if remaining, active := s.backoffRemaining(); active {
		s.log.Warn("manual refresh during backoff window, attempting anyway",
			zap.Duration("remaining", remaining))
	}
	if !s.inProgress.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer s.inProgress.Store(false)

	err := s.refresh(ctx)
	s.record(err)
	if err != nil {
		return fmt.Errorf("manual refresh: %w", err)
	}
	return nil
}

// ResumeAfter handles the consumer coming back from an absence. Past the
// absence threshold the cached reserves are presumed to have drifted far
// beyond normal staleness, so the cache is cleared and a hard refresh
// runs immediately, bypassing any backoff window.
func (s *Scheduler) ResumeAfter(ctx context.Context, hidden time.Duration) {
	if hidden < AbsenceThreshold {
		return
	}
	s.log.Info("hard refresh after absence", zap.Duration("hidden", hidden))

	if s.cache != nil {
		s.cache.Clear()
	}
	s.mu.Lock()
	s.state.ConsecutiveFailures = 0
	s.state.BackoffDelay = BaseBackoff
	s.state.LastFailureTime = time.Time{}
	s.mu.Unlock()

	s.attempt(ctx)
}

// State returns a copy of the recovery state.
func (s *Scheduler) State() ErrorRecoveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stale reports whether the last successful refresh is older than the
// staleness threshold. True before any success.
func (s *Scheduler) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.LastSuccess.IsZero() || s.now().Sub(s.state.LastSuccess) > StaleThreshold
}

func (s *Scheduler) backoffRemaining() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastFailureTime.IsZero() {
		return 0, false
	}
	elapsed := s.now().Sub(s.state.LastFailureTime)
	if elapsed < s.state.BackoffDelay {
		return s.state.BackoffDelay - elapsed, true
	}
	return 0, false
}

// attempt runs the refresh once, guarded so overlapping attempts become
// no-ops.
func (s *Scheduler) attempt(ctx context.Context) {
	if !s.inProgress.CompareAndSwap(false, true) {
		return
	}
	defer s.inProgress.Store(false)
	s.record(s.refresh(ctx))
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	if err == nil {
		recovered := s.state.ConsecutiveFailures > 0
		s.state.ConsecutiveFailures = 0
		s.state.BackoffDelay = BaseBackoff
		s.state.LastFailureTime = time.Time{}
		s.state.LastSuccess = s.now()
		s.mu.Unlock()

		if recovered {
			s.notifier.Notify(pkg.SeverityInfo, "pool registry refresh recovered")
			s.log.Info("refresh recovered")
		}
		return
	}

	s.state.ConsecutiveFailures++
	s.state.LastFailureTime = s.now()
	s.state.BackoffDelay = min(s.state.BackoffDelay*2, s.state.MaxBackoffDelay)
	failures := s.state.ConsecutiveFailures
	delay := s.state.BackoffDelay
	s.mu.Unlock()

	s.log.Warn("refresh failed",
		zap.Int("consecutiveFailures", failures),
		zap.Duration("backoff", delay),
		zap.Error(err))

	switch {
	case failures >= errorTier:
		s.notifier.Notify(pkg.SeverityError,
			fmt.Sprintf("pool registry refresh failing persistently (%d consecutive failures)", failures))
	case failures == warningTier:
		s.notifier.Notify(pkg.SeverityWarning, "pool registry refresh is failing, retrying with backoff")
	}
}
