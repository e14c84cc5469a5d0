// Package ratelimit provides per-backend admission control over two rolling
// windows (per minute and per hour).
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Config holds the request caps for one backend. A zero cap disables that window.
type Config struct {
	PerMinute int
	PerHour   int
}

// Limiter admits calls under a per-minute and a per-hour cap at the same time.
// It keeps the timestamps of admitted calls, pruned to the larger window.
type Limiter struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	stamps []time.Time

	// warnEvery throttles saturation warnings so a blocked batch does not flood the log.
	warnEvery rate.Sometimes

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a limiter for the named backend.
func New(name string, cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		name:      name,
		cfg:       cfg,
		logger:    logger,
		warnEvery: rate.Sometimes{Interval: 10 * time.Second},
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Wait suspends the caller until a call is permitted under both caps, then
// records the admission. It only fails when ctx ends while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.nowFunc()
		l.pruneLocked(now)
		wait := l.waitLocked(now)
		if wait <= 0 {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		inWindow := len(l.stamps)
		l.mu.Unlock()

		l.warnEvery.Do(func() {
			l.logger.Warn("rate limit reached, waiting for slot",
				"backend", l.name,
				"wait", wait,
				"recent_requests", inWindow,
			)
		})
		if err := l.sleepFunc(ctx, wait); err != nil {
			return err
		}
	}
}

// Len returns the number of admissions still inside the larger window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.nowFunc())
	return len(l.stamps)
}

// pruneLocked drops timestamps that no longer count against any window.
// Caller must hold l.mu.
func (l *Limiter) pruneLocked(now time.Time) {
	horizon := minuteWindow
	if l.cfg.PerHour > 0 {
		horizon = hourWindow
	}
	keep := 0
	for keep < len(l.stamps) && now.Sub(l.stamps[keep]) >= horizon {
		keep++
	}
	if keep > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[keep:]...)
	}
}

// waitLocked returns how long the caller must wait before admission. When both
// windows are saturated the larger wait wins. Caller must hold l.mu.
func (l *Limiter) waitLocked(now time.Time) time.Duration {
	return max(
		l.windowWait(now, minuteWindow, l.cfg.PerMinute),
		l.windowWait(now, hourWindow, l.cfg.PerHour),
	)
}

// windowWait computes window - (now - oldest) for the slot that must expire
// before another call fits under limit inside window.
func (l *Limiter) windowWait(now time.Time, window time.Duration, limit int) time.Duration {
	if limit <= 0 {
		return 0
	}
	// stamps is ordered; find the first one still inside the window.
	first := 0
	for first < len(l.stamps) && now.Sub(l.stamps[first]) >= window {
		first++
	}
	count := len(l.stamps) - first
	if count < limit {
		return 0
	}
	oldest := l.stamps[first+count-limit]
	wait := window - now.Sub(oldest)
	if wait < 0 {
		return 0
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
