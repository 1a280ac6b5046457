package hoststats

import (
	"context"
	"testing"
)

func TestCollectReturnsWithoutError(t *testing.T) {
	snap := Collect(context.Background())

	if snap.MemoryTotalBytes == 0 {
		t.Skip("host reports no memory info in this sandbox; metric stays zero by design")
	}
}
