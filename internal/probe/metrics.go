// Package probe implements two interchangeable probe-worker variants:
// Connect (cooperative task per probe, bounded by a permit pool) and SYN
// (stateless sender + background receiver). Both report through the same
// ScanMetrics counters and emit to the same Outcome channel.
package probe

import (
	"sync/atomic"
	"time"
)

// Outcome is the (ip, port, open?) triple a probe worker emits.
type Outcome struct {
	IP   string
	Port uint16
	Open bool
}

// ScanMetrics are the shared counters both probe variants update.
type ScanMetrics struct {
	Scanned   atomic.Int64
	Open      atomic.Int64
	Errors    atomic.Int64
	Retries   atomic.Int64
	StartTime time.Time
}

// NewScanMetrics returns metrics stamped with the current time as start.
func NewScanMetrics() *ScanMetrics {
	return &ScanMetrics{StartTime: time.Now()}
}

// Snapshot is a point-in-time, non-atomic read for reporting.
type Snapshot struct {
	Scanned   int64
	Open      int64
	Errors    int64
	Retries   int64
	StartTime time.Time
}

func (m *ScanMetrics) Snapshot() Snapshot {
	return Snapshot{
		Scanned:   m.Scanned.Load(),
		Open:      m.Open.Load(),
		Errors:    m.Errors.Load(),
		Retries:   m.Retries.Load(),
		StartTime: m.StartTime,
	}
}
