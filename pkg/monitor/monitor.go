// Package monitor samples host CPU, memory and disk pressure so a crawl can
// stop before it starves a constrained host.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/adrg/xdg"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/campus-crawler/pkg/models"
)

const (
	DefaultCPUThreshold    = 80.0
	DefaultMemoryThreshold = 80.0
	DefaultDiskThreshold   = 85.0

	cpuSampleWindow  = 500 * time.Millisecond
	cpuSampleTimeout = 2 * time.Second
)

// Thresholds are utilisation percentages; a reading at or above one marks the host unhealthy
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// DefaultThresholds returns 80/80/85
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:    DefaultCPUThreshold,
		MemoryPercent: DefaultMemoryThreshold,
		DiskPercent:   DefaultDiskThreshold,
	}
}

// withDefaults replaces unset thresholds independently
func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.CPUPercent <= 0 {
		t.CPUPercent = def.CPUPercent
	}
	if t.MemoryPercent <= 0 {
		t.MemoryPercent = def.MemoryPercent
	}
	if t.DiskPercent <= 0 {
		t.DiskPercent = def.DiskPercent
	}
	return t
}

// memoryReading is the subset of a virtual memory sample the monitor uses
type memoryReading struct {
	Total     uint64
	Available uint64
	Free      uint64
}

// Monitor takes fresh, uncached resource readings. Every sampling path degrades to 0% instead of failing.
type Monitor struct {
	dataRoot   string
	thresholds Thresholds
	log        *logrus.Entry

	// Samplers, replaceable in tests
	sampleCPU    func(ctx context.Context) (float64, error)
	sampleLoad   func(ctx context.Context) (float64, error)
	numCPU       func() int
	sampleMemory func(ctx context.Context) (memoryReading, error)
	sampleDisk   func(ctx context.Context, path string) (float64, error)
	homeDir      func() string
}

// New creates a Monitor for the filesystem holding dataRoot. Zero thresholds take their defaults.
func New(dataRoot string, thresholds Thresholds, log *logrus.Entry) *Monitor {
	return &Monitor{
		dataRoot:     dataRoot,
		thresholds:   thresholds.withDefaults(),
		log:          log,
		sampleCPU:    gopsutilCPU,
		sampleLoad:   gopsutilLoad,
		numCPU:       runtime.NumCPU,
		sampleMemory: gopsutilMemory,
		sampleDisk:   gopsutilDisk,
		homeDir:      func() string { return xdg.Home },
	}
}

// Thresholds returns the effective limits
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// CheckResources samples all three resources and evaluates them against the thresholds.
// IsHealthy is true only when every reading is strictly below its limit.
func (m *Monitor) CheckResources(ctx context.Context) models.ResourceSnapshot {
	snap := models.ResourceSnapshot{
		CPUPercent:    m.cpuPercent(ctx),
		MemoryPercent: m.memoryPercent(ctx),
		DiskPercent:   m.diskPercent(ctx),
	}
	snap.IsHealthy = snap.CPUPercent < m.thresholds.CPUPercent &&
		snap.MemoryPercent < m.thresholds.MemoryPercent &&
		snap.DiskPercent < m.thresholds.DiskPercent
	return snap
}

// Report samples resources and renders them as a short human-readable health report
func (m *Monitor) Report(ctx context.Context) string {
	return FormatReport(m.CheckResources(ctx), m.thresholds)
}

// FormatReport renders a snapshot against its thresholds
func FormatReport(snap models.ResourceSnapshot, t Thresholds) string {
	status := "healthy"
	if !snap.IsHealthy {
		status = "unhealthy"
	}
	return fmt.Sprintf("CPU: %.1f%% (limit %.0f%%)\nMemory: %.1f%% (limit %.0f%%)\nDisk: %.1f%% (limit %.0f%%)\nStatus: %s",
		snap.CPUPercent, t.CPUPercent,
		snap.MemoryPercent, t.MemoryPercent,
		snap.DiskPercent, t.DiskPercent,
		status)
}

func (m *Monitor) cpuPercent(ctx context.Context) float64 {
	pct, err := m.sampleCPU(ctx)
	if err == nil {
		return clampPercent(pct)
	}
	m.log.WithError(err).Debug("CPU sample failed, falling back to load average")

	load1, err := m.sampleLoad(ctx)
	if err != nil {
		m.log.WithError(err).Debug("Load average unavailable, reporting 0% CPU")
		return 0
	}
	cores := m.numCPU()
	if cores < 1 {
		cores = 1
	}
	return clampPercent(load1 / float64(cores) * 100)
}

func (m *Monitor) memoryPercent(ctx context.Context) float64 {
	r, err := m.sampleMemory(ctx)
	if err != nil || r.Total == 0 {
		if err != nil {
			m.log.WithError(err).Debug("Memory sample failed, reporting 0%")
		}
		return 0
	}
	free := r.Available
	if free == 0 {
		// Platforms without an available-memory figure only report free pages
		free = r.Free
	}
	if free > r.Total {
		return 0
	}
	return clampPercent(float64(r.Total-free) / float64(r.Total) * 100)
}

func (m *Monitor) diskPercent(ctx context.Context) float64 {
	pct, err := m.sampleDisk(ctx, m.dataRoot)
	if err == nil {
		return clampPercent(pct)
	}
	home := m.homeDir()
	m.log.WithError(err).WithField("fallback", home).Debug("Disk usage of data root unavailable, using home directory")

	if home == "" {
		return 0
	}
	pct, err = m.sampleDisk(ctx, home)
	if err != nil {
		m.log.WithError(err).Debug("Disk usage of home directory unavailable, reporting 0%")
		return 0
	}
	return clampPercent(pct)
}

func clampPercent(v float64) float64 {
	switch {
	case v != v || v < 0: // NaN or negative
		return 0
	case v > 100:
		return 100
	}
	return v
}

var errNoCPUSample = errors.New("no CPU sample returned")

func gopsutilCPU(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, cpuSampleTimeout)
	defer cancel()

	pcts, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, errNoCPUSample
	}
	return pcts[0], nil
}

func gopsutilLoad(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

func gopsutilMemory(ctx context.Context) (memoryReading, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return memoryReading{}, err
	}
	return memoryReading{Total: vm.Total, Available: vm.Available, Free: vm.Free}, nil
}

func gopsutilDisk(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}
