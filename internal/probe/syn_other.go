//go:build !linux

package probe

import (
	"context"
	"errors"

	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/ratelimit"
)

// ErrSYNUnsupported is returned by SYNScanner.Open on platforms without a
// raw-socket SYN implementation.
var ErrSYNUnsupported = errors.New("syn probe mode requires a linux host")

// Target is one (ip, port) pair to SYN-probe.
type Target struct {
	IP   string
	Port uint16
}

// SYNScanner is a stub on non-Linux platforms: Open always fails, steering
// callers back to connect mode.
type SYNScanner struct {
	Limiter *ratelimit.Limiter
	Metrics *ScanMetrics
	Logger  logger.Logger
}

func (s *SYNScanner) Open() error {
	return ErrSYNUnsupported
}

func (s *SYNScanner) Close() error {
	return nil
}

func (s *SYNScanner) Scan(ctx context.Context, targets <-chan Target, out chan<- Outcome) {
	for range targets {
	}
}
