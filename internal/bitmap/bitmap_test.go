package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetCountOnes(t *testing.T) {
	b := New()

	b.Set(10, true)
	b.Set(20, true)
	b.Set(1<<24+5, true) // second segment

	assert.True(t, b.Get(10))
	assert.True(t, b.Get(20))
	assert.False(t, b.Get(11))
	assert.Equal(t, 3, b.CountOnes())

	b.Set(10, false)
	assert.False(t, b.Get(10))
	assert.Equal(t, 2, b.CountOnes())
}

func TestClearingUnallocatedSegmentIsNoop(t *testing.T) {
	b := New()
	b.Set(42, false)
	assert.Equal(t, 0, b.CountOnes())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := New()
	b.Set(7, true)
	b.Set(1<<24+99, true)
	b.Set(2<<24+1000, true)

	encoded := b.Encode()

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, b.CountOnes(), decoded.CountOnes())
	assert.True(t, decoded.Get(7))
	assert.True(t, decoded.Get(1<<24+99))
	assert.True(t, decoded.Get(2<<24+1000))
	assert.False(t, decoded.Get(8))
}

func TestEmptyBitmapRoundTrip(t *testing.T) {
	b := New()
	decoded, err := Decode(b.Encode())
	require.NoError(t, err)
	assert.Equal(t, 0, decoded.CountOnes())
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	require.Error(t, err)
}
