package supervisor

import (
	"errors"
	"os"
	"time"

	"github.com/loykin/jwrapper/internal/history"
	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/metrics"
	"github.com/loykin/jwrapper/internal/process"
	"github.com/loykin/jwrapper/internal/tick"
)

const (
	// killDumpDelay is how long KILLING waits after a dump request.
	killDumpDelay = 5
	killReapWait  = 500 * time.Millisecond
)

// stopProcess asks the child and then the wrapper to shut down. WSTATE is
// left alone here; jStateDown moves it to STOPPING once the child is gone so
// on_exit rules still get a chance to run.
func (s *Supervisor) stopProcess(code int) {
	if s.wState == WStateStopping || s.wState == WStateStopped {
		s.debugf("Stop(%d) called while stopping.  (IGNORED)", code)
		return
	}
	s.debugf("Stop(%d) called.", code)
	if !s.exitRequested && !s.jState.stopping() && s.jState != JStateDown {
		s.exitRequested = true
	}
	s.exitCode = code
	s.restartRequested = RestartNo
}

// restartProcess asks for an intentional restart of a running child.
func (s *Supervisor) restartProcess() {
	if s.exitRequested || s.restartRequested != RestartNo || s.jState.stopping() ||
		s.jState == JStateDown || s.jState == JStateLaunchDelay {
		s.debugf("Restart() called.  (IGNORED)")
		return
	}
	s.debugf("Restart() called.")
	s.exitRequested = true
	s.restartRequested = RestartConfigured
}

func (s *Supervisor) pauseProcess() {
	switch s.wState {
	case WStateStopping, WStateStopped:
		s.debugf("Pause() called while stopping.  (IGNORED)")
	case WStatePausing:
		s.debugf("Pause() called while pausing.  (IGNORED)")
	case WStatePaused:
		s.debugf("Pause() called while paused.  (IGNORED)")
	default:
		s.debugf("Pause() called.")
		s.setWState(WStatePausing)
	}
}

func (s *Supervisor) resumeProcess() {
	switch s.wState {
	case WStateStopping, WStateStopped:
		s.debugf("Resume() called while stopping.  (IGNORED)")
	case WStateStarting:
		s.debugf("Resume() called while starting.  (IGNORED)")
	case WStateStarted:
		s.debugf("Resume() called while started.  (IGNORED)")
	case WStateContinuing:
		s.debugf("Resume() called while continuing.  (IGNORED)")
	default:
		s.debugf("Resume() called.")
		// the child was stopped on purpose, so that stop is not a failure
		if s.cfg.Wrapper.StopOnPause {
			s.failed = 0
			metrics.ResetFailedInvocations(s.cfg.Child.Name)
		}
		s.setWState(WStateContinuing)
	}
}

func (s *Supervisor) requestDump() {
	s.logf(logger.LevelStatus, "Dumping JVM state.")
	if err := s.launcher.RequestDump(); err != nil {
		s.logf(logger.LevelError, "Could not dump JVM state: %v", err)
	}
}

// killProcess moves to KILLING, optionally after asking for a thread dump.
// It is a no-op when no child exists.
func (s *Supervisor) killProcess(now tick.Tick) {
	if s.jState == JStateDown || s.jState == JStateLaunchDelay {
		if s.jState != JStateDown {
			s.setJState(JStateDown, now, -1)
		}
		return
	}
	delay := 0
	if running, _ := s.launcher.Poll(); running && s.cfg.Child.ThreadDumpOnFailedExit {
		s.requestDump()
		delay = killDumpDelay
	}
	s.setJState(JStateKilling, now, delay)
}

// killProcessNow forcibly ends the child and returns JSTATE to DOWN.
func (s *Supervisor) killProcessNow(now tick.Tick) {
	if running, _ := s.launcher.Poll(); running {
		if err := s.launcher.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logf(logger.LevelError, "JVM did not exit on request.")
			s.logf(logger.LevelError, "  Attempt to terminate process failed: %v", err)
		} else {
			s.logf(logger.LevelError, "JVM did not exit on request, terminated")
		}
		s.launcher.Wait(killReapWait)
		s.exitCode = 1
		metrics.IncKill(s.cfg.Child.Name)
		s.record(history.EventKill, 1, "")
	}
	s.setJState(JStateDown, now, -1)
	s.childGone()
}

// childGone releases what belonged to the finished invocation.
func (s *Supervisor) childGone() {
	process.RemovePIDFile(s.spec.PIDFile)
	s.channel.CloseConn()
	if s.sampler != nil && s.pid > 0 {
		s.sampler.Forget(s.pid)
		metrics.ClearRole("child")
	}
	s.pid = 0
}

// childDown polls the launcher. When the child has exited, the exit is
// classified and true is returned.
func (s *Supervisor) childDown(now tick.Tick) bool {
	running, code := s.launcher.Poll()
	if running {
		return false
	}
	s.processExited(now, code)
	return true
}

// processExited classifies an observed child exit by the state it happened in.
func (s *Supervisor) processExited(now tick.Tick, code int) {
	switch {
	case code == 0:
		s.debugf("JVM process exited with a code of %d, leaving the wrapper exit code set to %d.", code, s.exitCode)
	case s.exitCode == 0:
		s.exitCode = code
		s.debugf("JVM process exited with a code of %d, setting the wrapper exit code to %d.", code, s.exitCode)
	default:
		s.debugf("JVM process exited with a code of %d, however the wrapper exit code was already %d.", code, s.exitCode)
	}

	setState := true
	switch s.jState {
	case JStateDown:
		s.debugf("JVM already down.")
		setState = false
	case JStateLaunchDelay, JStateRestart, JStateLaunch:
		s.debugf("Received a message that the JVM is down when in the %s state.", s.jState)
		setState = false
	case JStateLaunching:
		s.restartRequested = RestartAutomatic
		s.logf(logger.LevelError, "JVM exited while loading the application.")
	case JStateLaunched:
		s.restartRequested = RestartAutomatic
		s.logf(logger.LevelError, "JVM exited before starting the application.")
	case JStateStarting:
		s.restartRequested = RestartAutomatic
		s.logf(logger.LevelError, "JVM exited while starting the application.")
	case JStateStarted:
		s.restartRequested = RestartAutomatic
		s.logf(logger.LevelError, "JVM exited unexpectedly.")
	case JStateStop, JStateStopping:
		s.logf(logger.LevelWarn, "JVM exited unexpectedly while stopping the application.")
	case JStateStopped:
		s.debugf("JVM exited normally.")
	case JStateKilling, JStateKill:
		s.logf(logger.LevelInfo, "JVM exited on its own while waiting to kill the application.")
	}

	if s.pid > 0 {
		metrics.ObserveExit(s.cfg.Child.Name, code, float64(tick.Age(s.launchTicks, now))/tick.PerSecond)
		s.record(history.EventExit, code, s.jState.String())
	}
	if setState {
		s.setJState(JStateDown, now, -1)
	}
	s.childGone()
}
