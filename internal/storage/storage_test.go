package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/portscanner/internal/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestBulkUpdateAndStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.TotalOpenRecords)

	err = s.BulkUpdatePortStatus(ctx, []Outcome{
		{IP: "192.168.1.1", Port: 80, Open: true, IPType: "IPv4"},
		{IP: "192.168.1.1", Port: 443, Open: false, IPType: "IPv4"},
		{IP: "192.168.1.2", Port: 80, Open: true, IPType: "IPv4"},
	}, 1)
	require.NoError(t, err)

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalOpenRecords)
	assert.EqualValues(t, 2, stats.UniqueIPs)

	top, err := s.TopPorts(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveMetadata(ctx, "test_key", "test_value"))

	v, ok, err := s.GetMetadata(ctx, "test_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "test_value", v)
}

func TestRoundIncrement(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	round, err := s.GetCurrentRound(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, round)

	next, err := s.IncrementRound(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next)

	round, err = s.GetCurrentRound(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, round)
}

func TestProgressRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, _, ok, err := s.GetProgress(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveProgress(ctx, "192.168.1.1", "IPv4", 1))

	ip, ipType, round, ok, err := s.GetProgress(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", ip)
	assert.Equal(t, "IPv4", ipType)
	assert.EqualValues(t, 1, round)
}

func TestFirstSeenImmutableAcrossReobservation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BulkUpdatePortStatus(ctx, []Outcome{
		{IP: "10.0.0.1", Port: 22, Open: true},
	}, 1))

	first, err := s.Results(ctx, ResultFilter{IPLike: "10.0.0.1"})
	require.NoError(t, err)
	require.Len(t, first, 1)
	firstSeen := first[0].FirstSeen

	require.NoError(t, s.BulkUpdatePortStatus(ctx, []Outcome{
		{IP: "10.0.0.1", Port: 22, Open: true},
	}, 2))

	second, err := s.Results(ctx, ResultFilter{IPLike: "10.0.0.1"})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, firstSeen, second[0].FirstSeen)
	assert.EqualValues(t, 2, second[0].ScanRound)
}

func TestGetIPsMissingGeo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.BulkUpdatePortStatus(ctx, []Outcome{
		{IP: "1.2.3.4", Port: 80, Open: true},
	}, 1))

	missing, err := s.GetIPsMissingGeo(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4"}, missing)

	require.NoError(t, s.SaveIPGeoInfo(ctx, IPGeoInfo{IPAddress: "1.2.3.4", Country: "US"}))

	missing, err = s.GetIPsMissingGeo(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
