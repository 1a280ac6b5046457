package ipaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortSpec(t *testing.T) {
	t.Run("comma list", func(t *testing.T) {
		got, err := ParsePortSpec("22,80,443")
		require.NoError(t, err)
		assert.Equal(t, []uint16{22, 80, 443}, got)
	})

	t.Run("inclusive range", func(t *testing.T) {
		got, err := ParsePortSpec("1-5")
		require.NoError(t, err)
		assert.Equal(t, []uint16{1, 2, 3, 4, 5}, got)
	})

	t.Run("single", func(t *testing.T) {
		got, err := ParsePortSpec("80")
		require.NoError(t, err)
		assert.Equal(t, []uint16{80}, got)
	})

	t.Run("reversed range is an error", func(t *testing.T) {
		_, err := ParsePortSpec("5-1")
		require.Error(t, err)
	})

	t.Run("non numeric is an error", func(t *testing.T) {
		_, err := ParsePortSpec("a")
		require.Error(t, err)
	})

	t.Run("deduplicates and sorts", func(t *testing.T) {
		got, err := ParsePortSpec("443,80,443,22")
		require.NoError(t, err)
		assert.Equal(t, []uint16{22, 80, 443}, got)
	})
}

func TestGeneratorRange(t *testing.T) {
	g, err := NewGenerator("192.168.1.1", "192.168.1.3", false)
	require.NoError(t, err)

	var got []string

	for {
		ip, _, ok := g.Next()
		if !ok {
			break
		}

		got = append(got, ip)
	}

	assert.Equal(t, []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"}, got)
}

func TestGeneratorSkipsPrivate(t *testing.T) {
	g, err := NewGenerator("192.168.1.1", "192.168.1.3", true)
	require.NoError(t, err)

	_, _, ok := g.Next()
	assert.False(t, ok)
}

func TestGeneratorInvalidRange(t *testing.T) {
	_, err := NewGenerator("10.0.0.5", "10.0.0.1", false)
	require.Error(t, err)
}

func TestIndexRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0.1", "192.168.1.1", "255.255.255.255", "1.2.3.4"} {
		idx, err := ToIndex(s)
		require.NoError(t, err)
		assert.Equal(t, s, FromIndex(idx))
	}
}
