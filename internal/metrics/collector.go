package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample holds one metrics snapshot taken during a compile
type Sample struct {
	Stage             string
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // Can exceed 100% on multi-core
	IOWaitPercent     float64
	RSSBytes          uint64
	MemoryPercent     float64
	DiskReadBps       float64
	DiskWriteBps      float64
	// DatabaseBytes is the size of the compiled database including its WAL
	DatabaseBytes int64
	Timestamp     time.Time
}

// Summary aggregates all samples of a run
type Summary struct {
	Samples       int
	PeakRSSBytes  uint64
	PeakCPU       float64
	DatabaseBytes int64
}

// Collector periodically samples system and process metrics and logs them
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	dbPath   string
	stage    func() string

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time
	lastCPU      cpu.TimesStat
	hasCPU       bool

	mu      sync.RWMutex
	last    *Sample
	summary Summary
}

// NewCollector creates a collector. dbPath may be empty; stage reports the
// current pipeline stage and may be nil.
func NewCollector(interval time.Duration, logger *zap.Logger, dbPath string, stage func() string) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	if stage == nil {
		stage = func() string { return "" }
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		dbPath:   dbPath,
		stage:    stage,
	}
}

// Start samples until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample sets the disk and CPU baselines
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.log(c.Collect())
		}
	}
}

// Last returns the most recent sample, nil before the first one
func (c *Collector) Last() *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Summary returns the aggregate over all samples so far
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// Collect takes one sample and folds it into the summary
func (c *Collector) Collect() *Sample {
	s := &Sample{Stage: c.stage(), Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil {
			s.RSSBytes = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	s.IOWaitPercent = c.ioWait()
	s.DiskReadBps, s.DiskWriteBps = c.diskRates()
	s.DatabaseBytes = fileSize(c.dbPath) + fileSize(c.dbPath+"-wal")

	c.mu.Lock()
	c.last = s
	c.summary.Samples++
	c.summary.PeakRSSBytes = max(c.summary.PeakRSSBytes, s.RSSBytes)
	c.summary.PeakCPU = max(c.summary.PeakCPU, s.ProcessCPUPercent)
	c.summary.DatabaseBytes = s.DatabaseBytes
	c.mu.Unlock()
	return s
}

func (c *Collector) log(s *Sample) {
	c.logger.Info("System metrics",
		zap.String("stage", s.Stage),
		zap.Float64("sys_cpu", s.CPUPercent),
		zap.Float64("proc_cpu", s.ProcessCPUPercent),
		zap.Float64("iowait", s.IOWaitPercent),
		zap.String("rss", humanize.IBytes(s.RSSBytes)),
		zap.Float64("mem_pct", s.MemoryPercent),
		zap.String("disk_r", humanize.IBytes(uint64(s.DiskReadBps))+"/s"),
		zap.String("disk_w", humanize.IBytes(uint64(s.DiskWriteBps))+"/s"),
		zap.String("database", humanize.IBytes(uint64(s.DatabaseBytes))),
	)
}

// ioWait returns the share of CPU time spent waiting for I/O since the last call
func (c *Collector) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	if !c.hasCPU {
		c.lastCPU, c.hasCPU = cur, true
		return 0
	}
	last := c.lastCPU
	c.lastCPU = cur

	total := (cur.User - last.User) + (cur.System - last.System) + (cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) + (cur.Irq - last.Irq) + (cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - last.Iowait) / total * 100
}

// diskRates returns bytes per second read and written since the last call
func (c *Collector) diskRates() (readBps, writeBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	now := time.Now()
	defer func() {
		c.lastDisk = counters
		c.lastDiskTime = now
	}()
	if c.lastDisk == nil {
		return 0, 0
	}
	elapsed := now.Sub(c.lastDiskTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var read, written uint64
	for name, cur := range counters {
		last, ok := c.lastDisk[name]
		if !ok {
			continue
		}
		// Counters can wrap
		if cur.ReadBytes >= last.ReadBytes {
			read += cur.ReadBytes - last.ReadBytes
		}
		if cur.WriteBytes >= last.WriteBytes {
			written += cur.WriteBytes - last.WriteBytes
		}
	}
	return float64(read) / elapsed, float64(written) / elapsed
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
