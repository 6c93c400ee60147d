package supervisor

import (
	"context"
	"math"
	"time"

	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/metrics"
	"github.com/loykin/jwrapper/internal/tick"
)

// Run drives both state machines until WSTATE reaches STOPPED and returns
// the wrapper's exit code. Cancelling ctx behaves like Stop(0); the loop
// still walks the child through an orderly shutdown.
func (s *Supervisor) Run(ctx context.Context) int {
	now := s.clock.Ticks()
	mode := "console"
	if s.service {
		mode = "service"
	}
	s.logf(logger.LevelStatus, "--> Wrapper Started as %s", mode)
	if s.log.RollMode()&logger.RollWrapper != 0 {
		s.log.Rotate()
	}
	s.writePIDFile()
	defer s.removePIDFile()

	if path := s.cfg.Wrapper.CommandFile; path != "" {
		w, err := newCommandWatcher(path, s.requests.poke)
		if err != nil {
			s.debugf("Command file watch disabled: %v", err)
		} else {
			s.watcher = w
			defer func() {
				_ = w.Close()
				s.watcher = nil
			}()
		}
	}

	s.resetTimers(now)
	if s.diag.timer {
		s.logf(logger.LevelStatus, "    Timer: start tick %08x, counter wraps in %d seconds",
			now, (math.MaxUint32-uint32(now))/tick.PerSecond)
	}
	s.writeStateFile(s.cfg.Wrapper.StatusFile, s.wState.String())
	s.writeStateFile(s.cfg.Child.StatusFile, s.jState.String())

	cancelled := false
	nextSleep := true
	for s.wState != WStateStopped {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			s.requests.Stop(0)
		}
		if nextSleep {
			s.sleep(ctx, cancelled)
		}
		nextSleep = s.cycle()
	}

	s.logf(logger.LevelStatus, "<-- Wrapper Stopped")
	_ = s.channel.Close()
	s.log.DrainQueue()
	s.log.Flush()
	s.publishStatus()
	return s.exitCode
}

// resetTimers makes every poller due at now.
func (s *Supervisor) resetTimers(now tick.Tick) {
	s.anchorTimeout = now
	s.commandTimeout = now
	s.memoryTimeout = now
	s.cpuTimeout = now
	s.inactivityTimeout = now
	s.lastActivity = s.log.Activity()
	s.lastCycle = now
	s.lastPing = now
	s.lastLoggedPing = now
}

// sleep waits one cycle delay, returning early when a request is posted or
// ctx is cancelled.
func (s *Supervisor) sleep(ctx context.Context, cancelled bool) {
	if s.diag.sleep {
		s.logf(logger.LevelStatus, "    Sleep: sleep %dms", s.cycleDelay.Milliseconds())
	}
	t := time.NewTimer(s.cycleDelay)
	defer t.Stop()
	done := ctx.Done()
	if cancelled {
		done = nil
	}
	select {
	case <-t.C:
	case <-s.requests.wake:
	case <-done:
	}
	if s.diag.sleep {
		s.logf(logger.LevelStatus, "    Sleep: awake")
	}
}

// cycle runs one pass of the loop and reports whether the next pass should
// sleep first.
func (s *Supervisor) cycle() bool {
	nextSleep := true
	if s.diag.loop {
		s.logf(logger.LevelStatus, "    Loop: wState=%s, jState=%s", s.wState, s.jState)
	}

	s.log.DrainQueue()

	if s.launcher.ReadOutput(func(line string) {
		s.log.Log(s.invocations, logger.LevelInfo, "%s", line)
	}) {
		nextSleep = false
	}

	if !(s.jState == JStateDown && (s.wState == WStateStopping || s.wState == WStateStopped)) {
		s.ensureListening()
		if s.channel.Read(s.dispatch) {
			nextSleep = false
		}
	}

	s.log.DrainQueue()

	now := s.clock.Ticks()

	s.usageOutput(now)
	s.logfileActivity(now)
	s.checkStarvation(now)

	if s.diag.state {
		s.logf(logger.LevelStatus, "    Ticks=%08x, WrapperState=%s, JVMState=%s JVMStateTimeout=%08x (%ds), Exit=%t, Restart=%s",
			now, s.wState, s.jState, s.jTimeout.Deadline(), s.jTimeout.Remaining(now), s.exitRequested, s.restartRequested)
	}

	s.anchorPoll(now)
	s.commandPoll(now)
	s.handleRequests()
	s.resolveExit(now)

	s.wStateHandler()
	s.jStateHandler(now, nextSleep)

	metrics.SetDroppedLogs(s.log.Dropped())
	s.publishStatus()
	return nextSleep
}

// ensureListening reopens the listener when a connection was dropped while
// a child is still expected to register.
func (s *Supervisor) ensureListening() {
	if s.channel.Connected() || s.channel.Listening() {
		return
	}
	switch s.jState {
	case JStateDown, JStateLaunchDelay, JStateRestart, JStateStopped, JStateKilling, JStateKill:
		return
	}
	if err := s.channel.Listen(); err != nil {
		s.debugf("Unable to reopen the protocol port: %v", err)
	}
}

func (s *Supervisor) logfileActivity(now tick.Tick) {
	if a := s.log.Activity(); a != s.lastActivity {
		s.lastActivity = a
		s.inactivityTimeout = tick.Add(now, s.cfg.Logfile.InactivityTimeout)
	}
	if s.cfg.Logfile.InactivityTimeout > 0 && tick.Expired(now, s.inactivityTimeout) {
		s.log.CloseLogfile()
		return
	}
	s.log.Flush()
}

// checkStarvation extends the child timeout when the loop itself was not
// scheduled for longer than cpu_timeout, so the lag is not blamed on the
// child.
func (s *Supervisor) checkStarvation(now tick.Tick) {
	age := int(tick.AgeSeconds(s.lastCycle, now))
	if limit := s.cfg.Wrapper.CPUTimeout; limit > 0 && age > limit {
		s.logf(logger.LevelInfo, "Wrapper Process has not received any CPU time for %d seconds.  Extending timeouts.", age)
		s.jTimeout.Extend(age)
	}
	s.lastCycle = now
}

func (s *Supervisor) handleRequests() {
	p := s.requests.take()
	for _, c := range p.levels {
		s.applyLogLevel(c.target, c.level)
		s.logf(logger.LevelStatus, "Set %s log level to '%s'.", c.target, c.level)
	}
	if p.dump {
		s.requestDump()
	}
	if p.pause {
		s.pauseProcess()
	}
	if p.resume {
		s.resumeProcess()
	}
	if p.restart {
		s.restartProcess()
	}
	if p.stop {
		s.stopProcess(p.stopCode)
	}
}

// resolveExit turns a pending exit request into the matching JSTATE move.
func (s *Supervisor) resolveExit(now tick.Tick) {
	if !s.exitRequested {
		return
	}
	s.exitRequested = false
	switch s.jState {
	case JStateDown:
	case JStateLaunchDelay, JStateRestart, JStateLaunch:
		// not launched yet
		s.setJState(JStateDown, now, -1)
	default:
		if s.jState.stopping() {
			return
		}
		if s.childDown(now) {
			s.restartRequested = RestartNo
			return
		}
		s.setJState(JStateStop, now, -1)
	}
}
