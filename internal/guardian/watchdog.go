// Package guardian keeps the interception engine running and clears
// session authentication on a schedule.
package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultRestartDelay is how long the watchdog waits before re-arming.
const DefaultRestartDelay = time.Second

// Watchdog restarts a long-running function whenever it stops unexpectedly.
type Watchdog struct {
	Delay  time.Duration
	Logger *slog.Logger

	restarts atomic.Uint64
}

// Supervise calls run until ctx is cancelled. A return or panic from run
// while ctx is live is treated as an unexpected stop and re-armed after
// Delay. Supervise returns nil once ctx is done.
func (w *Watchdog) Supervise(ctx context.Context, name string, run func(context.Context) error) error {
	delay := w.Delay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for {
		err := runGuarded(ctx, run)
		if ctx.Err() != nil {
			return nil
		}
		n := w.restarts.Add(1)
		logger.Warn("watchdog: component stopped, restarting", "component", name, "error", err, "delay", delay, "restarts", n)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Restarts reports how many times run has been re-armed.
func (w *Watchdog) Restarts() uint64 { return w.restarts.Load() }

func runGuarded(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}
