package metrics

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	usageCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage since the previous sample.",
		}, []string{"role"},
	)
	usageRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the wrapper and the child.",
		}, []string{"role"},
	)
	usageThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "num_threads",
			Help:      "Number of threads of the wrapper and the child.",
		}, []string{"role"},
	)
)

// Usage is a point-in-time resource sample of one process.
type Usage struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	UserSecs   float64 `json:"user_seconds"`
	SystemSecs float64 `json:"system_seconds"`
	MemoryRSS  uint64  `json:"memory_rss"`
	MemoryVMS  uint64  `json:"memory_vms"`
	NumThreads int32   `json:"num_threads"`
	NumFDs     int32   `json:"num_fds,omitempty"` // Unix only
}

// Sampler reads process usage with gopsutil. It keeps one handle per pid
// so CPU percentages are measured between consecutive samples.
type Sampler struct {
	mu      sync.Mutex
	handles map[int32]*process.Process
}

func NewSampler() *Sampler {
	return &Sampler{handles: make(map[int32]*process.Process)}
}

// Sample returns the usage of pid. role labels the exported gauges
// ("wrapper" or "child").
func (s *Sampler) Sample(role string, pid int) (Usage, error) {
	if pid <= 0 {
		return Usage{}, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := s.handle(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		s.Forget(pid)
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	u := Usage{PID: int32(pid), MemoryRSS: mem.RSS, MemoryVMS: mem.VMS}
	// Percent(0) compares against the previous call on this handle
	if pct, err := p.Percent(0); err == nil {
		u.CPUPercent = pct
	}
	if t, err := p.Times(); err == nil {
		u.UserSecs = t.User
		u.SystemSecs = t.System
	}
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			u.NumFDs = n
		}
	}
	if regOK.Load() && role != "" {
		usageCPU.WithLabelValues(role).Set(u.CPUPercent)
		usageRSS.WithLabelValues(role).Set(float64(u.MemoryRSS))
		usageThreads.WithLabelValues(role).Set(float64(u.NumThreads))
	}
	return u, nil
}

func (s *Sampler) handle(pid int32) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.handles[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}
	s.handles[pid] = p
	return p, nil
}

// Forget drops the cached handle of an exited process.
func (s *Sampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.handles, int32(pid))
	s.mu.Unlock()
}

// ClearRole resets the gauges of role, used once the child is gone.
func ClearRole(role string) {
	if regOK.Load() {
		usageCPU.DeleteLabelValues(role)
		usageRSS.DeleteLabelValues(role)
		usageThreads.DeleteLabelValues(role)
	}
}
