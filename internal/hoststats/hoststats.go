// Package hoststats reports the scanning host's own resource usage, so
// operators can tell a stalled scan from a starved one.
package hoststats

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time read of host CPU and memory usage.
type Snapshot struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
}

// Collect samples CPU usage over a short window and reads current memory
// usage. A collection failure on either metric reports zero for that metric
// rather than failing the whole snapshot, since host stats are informational.
func Collect(ctx context.Context) Snapshot {
	var snap Snapshot

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryTotalBytes = vm.Total
		snap.MemoryUsedBytes = vm.Used
	}

	return snap
}
