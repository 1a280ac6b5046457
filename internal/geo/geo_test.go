package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
)

// TestRunOnceSkipsUnparsableIPs guards against a malformed ip_address row
// aborting an entire enrichment batch; RunOnce only errors on storage
// failures, never on an individual bad lookup.
func TestRunOnceSkipsUnparsableIPs(t *testing.T) {
	store, err := storage.Open(":memory:", logger.NewTestLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.BulkUpdatePortStatus(ctx, []storage.Outcome{
		{IP: "not-an-ip", Port: 80, Open: true},
	}, 1))

	e := &Enricher{Store: store, Logger: logger.NewTestLogger(), Limit: 10}

	// The IP does not parse, so lookup misses before the (unconfigured)
	// reader is consulted; nothing is written, but the pass must not error.
	err = e.RunOnce(ctx)
	assert.NoError(t, err)
}
