package writer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
)

func TestBatchCoalescing(t *testing.T) {
	store, err := storage.Open(":memory:", logger.NewTestLogger())
	require.NoError(t, err)
	defer store.Close()

	w := New(store, 100, 50*time.Millisecond, logger.NewTestLogger())

	in := make(chan storage.Outcome, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		w.Run(ctx, in, func() int64 { return 1 })
		close(done)
	}()

	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	for i := 0; i < 10; i++ {
		in <- storage.Outcome{IP: ips[i%len(ips)], Port: 80, Open: true}
	}

	time.Sleep(150 * time.Millisecond)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalOpenRecords)

	top, err := store.TopPorts(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.EqualValues(t, 80, top[0].Port)
	assert.EqualValues(t, 3, top[0].OpenCount)

	close(in)
	cancel()
	<-done
}
