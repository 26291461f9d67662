// Package metrics implements the atomic request/upload counters and the
// gopsutil-backed host snapshot that back GET /api/v1/health?detailed=true.
package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Collector tracks process-wide request and upload counters. All fields are
// accessed through atomic operations; there is no lock.
type Collector struct {
	startTime time.Time

	requestCount   int64
	errorCount     int64
	uploadCount    int64
	uploadBytes    int64
	uploadDuration int64 // microseconds, cumulative
}

// NewCollector creates a collector whose uptime is measured from now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) RecordRequest() {
	atomic.AddInt64(&c.requestCount, 1)
}

func (c *Collector) RecordError() {
	atomic.AddInt64(&c.errorCount, 1)
}

func (c *Collector) RecordUpload(bytes int64, duration time.Duration) {
	atomic.AddInt64(&c.uploadCount, 1)
	atomic.AddInt64(&c.uploadBytes, bytes)
	atomic.AddInt64(&c.uploadDuration, duration.Microseconds())
}

// Snapshot is a point-in-time read of the collector's counters plus derived
// rates.
type Snapshot struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	UploadCount    int64         `json:"upload_count"`
	UploadBytes    int64         `json:"upload_bytes"`
	RequestRate    float64       `json:"request_rate_per_sec"`
	ErrorRate      float64       `json:"error_rate_percent"`
	AvgUploadSpeed float64       `json:"avg_upload_speed_mbps"`
}

func (c *Collector) Snapshot() Snapshot {
	requestCount := atomic.LoadInt64(&c.requestCount)
	errorCount := atomic.LoadInt64(&c.errorCount)
	uploadCount := atomic.LoadInt64(&c.uploadCount)
	uploadBytes := atomic.LoadInt64(&c.uploadBytes)
	uploadDuration := atomic.LoadInt64(&c.uploadDuration)

	uptime := time.Since(c.startTime)
	uptimeSec := uptime.Seconds()

	var requestRate float64
	if uptimeSec > 0 {
		requestRate = float64(requestCount) / uptimeSec
	}

	var errorRate float64
	if requestCount > 0 {
		errorRate = float64(errorCount) / float64(requestCount) * 100
	}

	var avgUploadSpeed float64
	if uploadCount > 0 && uploadDuration > 0 {
		avgDurationSec := float64(uploadDuration) / float64(uploadCount) / 1_000_000
		if avgDurationSec > 0 {
			avgUploadSpeed = float64(uploadBytes) / float64(uploadCount) / avgDurationSec / 1024 / 1024
		}
	}

	return Snapshot{
		Uptime:         uptime,
		RequestCount:   requestCount,
		ErrorCount:     errorCount,
		UploadCount:    uploadCount,
		UploadBytes:    uploadBytes,
		RequestRate:    requestRate,
		ErrorRate:      errorRate,
		AvgUploadSpeed: avgUploadSpeed,
	}
}

// HostStats is a best-effort snapshot of the host the process is running on,
// used to enrich the detailed health endpoint. Any field gopsutil could not
// read is left at its zero value rather than failing the whole snapshot.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
	MemTotalMB    uint64  `json:"mem_total_mb"`
	MemPercent    float64 `json:"mem_percent"`
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   uint64  `json:"heap_alloc_mb"`
	Platform      string  `json:"platform,omitempty"`
	HostUptimeSec uint64  `json:"host_uptime_sec,omitempty"`
}

// CollectHostStats samples CPU, memory, and platform info. It never returns
// an error — an individual gopsutil call failing just leaves that field at
// its zero value.
func CollectHostStats(ctx context.Context) HostStats {
	stats := HostStats{
		Goroutines: runtime.NumGoroutine(),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.HeapAllocMB = memStats.Alloc / 1024 / 1024

	if percentages, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemUsedMB = vm.Used / 1024 / 1024
		stats.MemTotalMB = vm.Total / 1024 / 1024
		stats.MemPercent = vm.UsedPercent
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		stats.Platform = info.Platform
		stats.HostUptimeSec = info.Uptime
	}

	return stats
}
