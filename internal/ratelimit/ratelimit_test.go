package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAdmitsUpToMaxRatePerWindow(t *testing.T) {
	l := New(5, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	// Sixth acquisition within the same window should block until refill.
	done := make(chan struct{})

	go func() {
		_ = l.Acquire(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("acquire should not have succeeded before the window elapsed")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("acquire should have succeeded after the window elapsed")
	}
}

func TestLimiterAcquireCancellation(t *testing.T) {
	l := New(0, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
