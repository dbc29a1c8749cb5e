package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

/* SystemMetrics represents current host metrics for the dashboard */
type SystemMetrics struct {
	Timestamp time.Time      `json:"timestamp"`
	CPU       CPUMetrics     `json:"cpu"`
	Memory    MemoryMetrics  `json:"memory"`
	Disk      DiskMetrics    `json:"disk"`
	Process   ProcessMetrics `json:"process"`
}

/* CPUMetrics contains CPU usage information */
type CPUMetrics struct {
	UsagePercent float64 `json:"usage_percent"`
	Count        int     `json:"count"`
}

/* MemoryMetrics contains memory usage information */
type MemoryMetrics struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

/* DiskMetrics contains disk usage information */
type DiskMetrics struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

/* ProcessMetrics contains process information */
type ProcessMetrics struct {
	GoRoutines int    `json:"go_routines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
}

/* CollectSystemMetrics collects current host metrics */
func CollectSystemMetrics(ctx context.Context) (*SystemMetrics, error) {
	m := &SystemMetrics{
		Timestamp: time.Now(),
	}

	if cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(cpuPercent) > 0 {
		m.CPU.UsagePercent = cpuPercent[0]
	}
	if cpuCount, err := cpu.Counts(true); err == nil {
		m.CPU.Count = cpuCount
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.Memory.Total = vm.Total
		m.Memory.Used = vm.Used
		m.Memory.Available = vm.Available
		m.Memory.UsedPercent = vm.UsedPercent
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		m.Disk.Total = usage.Total
		m.Disk.Used = usage.Used
		m.Disk.Free = usage.Free
		m.Disk.UsedPercent = usage.UsedPercent
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.Process.GoRoutines = runtime.NumGoroutine()
	m.Process.HeapAlloc = memStats.HeapAlloc
	m.Process.HeapSys = memStats.HeapSys

	return m, nil
}
