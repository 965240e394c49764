// Package loop runs the fixed-period workers every subsystem is built on.
//
// A worker runs one bounded tick, sleeps for its period and repeats until its
// context is cancelled. Errors and panics are contained at the tick boundary:
// they are logged and the worker carries on.
package loop

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"
)

// Tick performs one bounded unit of work.
type Tick func(ctx context.Context) error

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Discard returns logger, or a logger that drops everything if logger is nil.
func Discard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return discard
	}
	return logger
}

// Run drives tick every period until ctx is done. The stop flag is checked at
// the top of each iteration, so an in-flight tick always completes.
func Run(ctx context.Context, name string, period time.Duration, logger *slog.Logger, tick Tick) {
	logger = Discard(logger).With("loop", name)
	logger.Debug("loop: started", "period", period)
	defer logger.Debug("loop: stopped")

	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := safeTick(ctx, tick); err != nil {
			logger.Warn("loop: error from tick", "error", err)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(period)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func safeTick(ctx context.Context, tick Tick) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return tick(ctx)
}

// Sleep waits for d or until ctx is done, whichever comes first. It reports
// whether the full duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
