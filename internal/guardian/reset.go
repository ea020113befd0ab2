package guardian

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMinResetInterval is the shortest accepted periodic reset interval.
const DefaultMinResetInterval = 15 * time.Minute

// Resetter clears all session authentication.
type Resetter interface {
	ResetSessions(ctx context.Context, reason string) error
}

// ResetScheduler calls Resetter on a fixed interval. The interval can be
// changed while running; zero disables the schedule.
type ResetScheduler struct {
	target Resetter
	floor  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	changed  chan struct{}
}

// NewResetScheduler returns a scheduler. Intervals below floor are raised to floor.
func NewResetScheduler(target Resetter, interval, floor time.Duration, logger *slog.Logger) *ResetScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ResetScheduler{
		target:  target,
		floor:   floor,
		logger:  logger,
		changed: make(chan struct{}, 1),
	}
	s.interval = s.clamp(interval)
	return s
}

func (s *ResetScheduler) clamp(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d < s.floor {
		return s.floor
	}
	return d
}

// SetInterval replaces the interval and returns the value in effect.
func (s *ResetScheduler) SetInterval(d time.Duration) time.Duration {
	s.mu.Lock()
	s.interval = s.clamp(d)
	eff := s.interval
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
	return eff
}

// Interval returns the interval in effect.
func (s *ResetScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Run blocks until ctx is cancelled.
func (s *ResetScheduler) Run(ctx context.Context) error {
	for {
		var tick <-chan time.Time
		var timer *time.Timer
		if d := s.Interval(); d > 0 {
			timer = time.NewTimer(d)
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case <-s.changed:
			stopTimer(timer)
		case <-tick:
			if err := s.target.ResetSessions(ctx, "scheduled"); err != nil {
				s.logger.Warn("reset scheduler: reset failed", "error", err)
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
