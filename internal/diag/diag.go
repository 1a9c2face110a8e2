// Package diag collects local host statistics for the health endpoint.
package diag

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostStats is a point-in-time view of the machine the relay runs on.
// Fields that fail to collect are left at their zero value rather than
// failing the whole report.
type HostStats struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	UptimeSeconds uint64  `json:"uptimeSeconds"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemUsedPct    float64 `json:"memUsedPct"`
	MemTotalBytes uint64  `json:"memTotalBytes"`
	ProcRSSBytes  uint64  `json:"procRssBytes"`
	Goroutines    int     `json:"goroutines"`
}

// Collect gathers host statistics. Only a total collection failure returns
// an error; individual probe failures degrade to zero values.
func Collect(ctx context.Context) (*HostStats, error) {
	stats := &HostStats{Goroutines: runtime.NumGoroutine()}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	stats.Hostname = info.Hostname
	stats.Platform = info.Platform
	stats.UptimeSeconds = info.Uptime

	// Non-blocking sample: percentage since the last call in this process.
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemUsedPct = vm.UsedPercent
		stats.MemTotalBytes = vm.Total
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcRSSBytes = mi.RSS
		}
	}

	return stats, nil
}

// CollectWithTimeout bounds Collect so a stuck probe cannot hang a health
// request.
func CollectWithTimeout(parent context.Context, timeout time.Duration) (*HostStats, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return Collect(ctx)
}
