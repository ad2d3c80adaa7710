package engine

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// SelfStats is a self-process health snapshot: diagnosing a node whose
// battery-derived score looks fine but whose daemon is thrashing needs this,
// not the cluster metrics. Mirrors sptp/client.SysStats.CollectRuntimeStats,
// narrowed to the fields this engine's monitoring surface actually exports.
type SelfStats struct {
	mu      sync.Mutex
	proc    *process.Process
	last    selfStatsSnapshot
}

type selfStatsSnapshot struct {
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
}

// NewSelfStats attaches to the current process.
func NewSelfStats() (*SelfStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &SelfStats{proc: p}, nil
}

// Collect samples CPU%, RSS, and thread count, caching the result for Get.
func (s *SelfStats) Collect() {
	var snap selfStatsSnapshot
	if pct, err := s.proc.Percent(0); err == nil {
		snap.CPUPercent = pct
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		snap.RSSBytes = mem.RSS
	}
	if n, err := s.proc.NumThreads(); err == nil {
		snap.NumThreads = n
	}
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

// Get returns the most recently collected snapshot.
func (s *SelfStats) Get() (cpuPercent float64, rssBytes uint64, numThreads int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.CPUPercent, s.last.RSSBytes, s.last.NumThreads
}

// RunForever calls Collect every interval until ctx-like cancellation is
// signaled by closing stop. Intended to run in its own goroutine, mirroring
// sptp's updateSysStatsForever loop.
func (s *SelfStats) RunForever(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Collect()
		}
	}
}
