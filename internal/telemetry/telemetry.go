// Package telemetry fills the informational host fields of SystemStats.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"northsea/internal/model"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const unknown = "unknown"

// NetworkState reports upstream reachability: "good", "degraded" or "offline".
type NetworkState interface {
	NetworkStatus() string
}

// Probe samples cpu and memory. Failures degrade to "unknown" and never
// fail the stats read.
type Probe struct {
	network NetworkState
	sample  time.Duration // 0 compares against the previous call
	cpuPct  func(ctx context.Context, interval time.Duration) ([]float64, error)
	memUsed func(ctx context.Context) (uint64, error)
}

// NewProbe builds a probe. network may be nil, meaning no upstream to report on.
func NewProbe(network NetworkState) *Probe {
	return &Probe{
		network: network,
		cpuPct: func(ctx context.Context, interval time.Duration) ([]float64, error) {
			return cpu.PercentWithContext(ctx, interval, false)
		},
		memUsed: func(ctx context.Context) (uint64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.Used, nil
		},
	}
}

// Fill writes cpuUsage, memoryUsage and networkStatus into stats.
func (p *Probe) Fill(ctx context.Context, stats *model.SystemStats) {
	stats.CPUUsage = unknown
	stats.MemoryUsage = unknown
	stats.NetworkStatus = "good"

	if pct, err := p.cpuPct(ctx, p.sample); err == nil && len(pct) > 0 {
		stats.CPUUsage = fmt.Sprintf("%.1f%%", pct[0])
	}
	if used, err := p.memUsed(ctx); err == nil {
		stats.MemoryUsage = FormatBytes(used)
	}
	if p.network != nil {
		stats.NetworkStatus = p.network.NetworkStatus()
	}
}

// FormatBytes renders a size the way the console shows it, e.g. "2.1 GB".
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
