package supervisor

import (
	"os"

	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/metrics"
	"github.com/loykin/jwrapper/internal/tick"
)

// usageOutput logs memory and CPU samples of the wrapper and the child on
// their configured intervals.
func (s *Supervisor) usageOutput(now tick.Tick) {
	if s.sampler == nil {
		return
	}
	if s.diag.memory && tick.Expired(now, s.memoryTimeout) {
		s.memoryTimeout = tick.Add(now, s.cfg.Diagnostics.MemoryOutputInterval)
		s.eachRole(func(role string, u metrics.Usage) {
			s.logf(logger.LevelInfo, "%s memory: rss=%d vms=%d threads=%d fds=%d",
				role, u.MemoryRSS, u.MemoryVMS, u.NumThreads, u.NumFDs)
		})
	}
	if s.diag.cpu && tick.Expired(now, s.cpuTimeout) {
		s.cpuTimeout = tick.Add(now, s.cfg.Diagnostics.CPUOutputInterval)
		s.eachRole(func(role string, u metrics.Usage) {
			s.logf(logger.LevelInfo, "%s cpu: %.1f%% (user %.2fs, system %.2fs)",
				role, u.CPUPercent, u.UserSecs, u.SystemSecs)
		})
	}
}

func (s *Supervisor) eachRole(emit func(role string, u metrics.Usage)) {
	if u, err := s.sampler.Sample("wrapper", os.Getpid()); err == nil {
		emit("Wrapper", u)
	} else {
		s.debugf("Unable to sample the Wrapper process: %v", err)
	}
	if s.pid <= 0 {
		return
	}
	if u, err := s.sampler.Sample("child", s.pid); err == nil {
		emit("JVM", u)
	} else {
		s.debugf("Unable to sample the JVM process %d: %v", s.pid, err)
	}
}
