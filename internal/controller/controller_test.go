package controller

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/portscanner/internal/events"
	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()

	store, err := storage.Open(":memory:", logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	notifier, err := events.Connect("", logger.NewTestLogger())
	require.NoError(t, err)

	return New(store, logger.NewTestLogger(), notifier)
}

func TestLifecycleStartStop(t *testing.T) {
	c := newTestController(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	ctx := context.Background()

	scanID, err := c.Start(ctx, StartRequest{
		StartIP:     "127.0.0.1",
		EndIP:       "127.0.0.1",
		Ports:       portStr,
		ProbeMode:   "connect",
		Concurrency: 4,
		TimeoutMS:   200,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, scanID)

	assert.Eventually(t, func() bool {
		st := c.Status(ctx).State
		return st == StateRunning || st == StateStopped
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateStopped, c.Status(ctx).State)

	assert.ErrorIs(t, c.Stop(ctx), ErrNotRunning)
}

func TestStartRejectsEmptyPortSpec(t *testing.T) {
	c := newTestController(t)

	_, err := c.Start(context.Background(), StartRequest{StartIP: "127.0.0.1", EndIP: "127.0.0.1", Ports: ""})
	assert.ErrorIs(t, err, ErrEmptyPortSpec)
	assert.Equal(t, StateIdle, c.Status(context.Background()).State)
}

func TestStartTwiceRejected(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	_, err := c.Start(ctx, StartRequest{StartIP: "10.255.255.1", EndIP: "10.255.255.2", Ports: "65000"})
	require.NoError(t, err)

	_, err = c.Start(ctx, StartRequest{StartIP: "10.255.255.1", EndIP: "10.255.255.2", Ports: "65000"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, c.Stop(ctx))
}

func TestResumeCursorHonoredWhenStartIPOmitted(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Store.SaveProgress(ctx, "203.0.113.5", "IPv4", 7))

	startIP, round, err := c.resolveStart(ctx, StartRequest{})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", startIP)
	assert.EqualValues(t, 7, round)
}

func TestResolveStartPrefersExplicitStartIP(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Store.SaveProgress(ctx, "203.0.113.5", "IPv4", 7))

	startIP, _, err := c.resolveStart(ctx, StartRequest{StartIP: "198.51.100.1"})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", startIP)
}
