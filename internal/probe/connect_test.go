package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectScannerAgainstLocalListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	openPort := uint16(listener.Addr().(*net.TCPAddr).Port)

	closedListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedPort := uint16(closedListener.Addr().(*net.TCPAddr).Port)
	closedListener.Close()

	scanner := &ConnectScanner{
		Timeout:     200 * time.Millisecond,
		Concurrency: 4,
		Metrics:     NewScanMetrics(),
	}

	ips := make(chan string, 1)
	out := make(chan Outcome, 4)

	ips <- "127.0.0.1"
	close(ips)

	scanner.Scan(context.Background(), ips, []uint16{openPort, closedPort}, out)
	close(out)

	results := map[uint16]bool{}
	for o := range out {
		results[o.Port] = o.Open
	}

	assert.True(t, results[openPort])
	assert.False(t, results[closedPort])
	assert.EqualValues(t, 2, scanner.Metrics.Scanned.Load())
	assert.EqualValues(t, 1, scanner.Metrics.Open.Load())
}
