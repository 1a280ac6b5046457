// Package ratelimit implements an admission-control gate: at most max_rate
// acquisitions per sliding window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a counting permit pool of capacity max_rate that refills back
// to capacity once window has elapsed since the last refill.
type Limiter struct {
	permits chan struct{}
	maxRate int
	window  time.Duration

	mu        sync.Mutex
	lastReset time.Time
}

// New builds a Limiter admitting at most maxRate acquisitions per window.
func New(maxRate int, window time.Duration) *Limiter {
	l := &Limiter{
		permits:   make(chan struct{}, maxRate),
		maxRate:   maxRate,
		window:    window,
		lastReset: time.Now(),
	}

	for i := 0; i < maxRate; i++ {
		l.permits <- struct{}{}
	}

	return l
}

// Acquire blocks until a permit is available or ctx is cancelled. It is
// cancellation-safe: a caller whose context is cancelled before a permit is
// granted releases nothing, because nothing was taken.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.maybeRefill()

		l.mu.Lock()
		wait := l.window - time.Since(l.lastReset)
		l.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}

		select {
		case <-l.permits:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// Window boundary reached: loop to refill and try again.
		}
	}
}

// maybeRefill tops the permit pool back up to maxRate if window has elapsed
// since the last refill, adding only the deficit rather than flooding the
// channel past capacity.
func (l *Limiter) maybeRefill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastReset) < l.window {
		return
	}

	l.lastReset = time.Now()

	deficit := l.maxRate - len(l.permits)
	for i := 0; i < deficit; i++ {
		select {
		case l.permits <- struct{}{}:
		default:
			return
		}
	}
}
