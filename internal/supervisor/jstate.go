package supervisor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/loykin/jwrapper/internal/config"
	"github.com/loykin/jwrapper/internal/history"
	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/metrics"
	"github.com/loykin/jwrapper/internal/protocol"
	"github.com/loykin/jwrapper/internal/tick"
)

// Environment handed to every child so it can reach the channel.
const (
	EnvPort  = "JWRAPPER_PORT"
	EnvKey   = "JWRAPPER_KEY"
	EnvJVMID = "JWRAPPER_JVMID"
)

const debugDashes = "------------------------------------------------------------------------"

func (s *Supervisor) jStateHandler(now tick.Tick, nextSleep bool) {
	intent := intentOf(s.wState)
	switch s.jState {
	case JStateDown:
		s.jStateDown(now, intent)
	case JStateLaunchDelay:
		s.jStateLaunchDelay(now, intent)
	case JStateRestart:
		s.jStateRestart(now, intent)
	case JStateLaunch:
		s.jStateLaunch(now, intent)
	case JStateLaunching:
		s.jStateLaunching(now, nextSleep)
	case JStateLaunched:
		s.jStateLaunched(now, nextSleep)
	case JStateStarting:
		s.jStateStarting(now, nextSleep)
	case JStateStarted:
		s.jStateStarted(now, nextSleep)
	case JStateStop:
		s.jStateStop(now, nextSleep)
	case JStateStopping:
		s.jStateStopping(now, nextSleep)
	case JStateStopped:
		s.jStateStopped(now, nextSleep)
	case JStateKilling:
		s.jStateKilling(now, nextSleep)
	case JStateKill:
		s.killProcessNow(now)
	}
}

func (s *Supervisor) jStateDown(now tick.Tick, intent Intent) {
	switch {
	case intent.wantsChild():
		if s.restartRequested != RestartNo {
			s.scheduleLaunch(now, intent)
		} else {
			s.applyExitPolicy("on_exit trigger matched.  Restarting the JVM.  (Exit code: %d)")
		}
	case intent == IntentPaused:
		if s.restartRequested == RestartNo && !s.cfg.Wrapper.StopOnPause {
			s.applyExitPolicy("on_exit trigger matched.  Service is paused, will restart the JVM when resumed.  (Exit code: %d)")
		}
	}
	s.lastPing = now
	s.lastLoggedPing = now
}

// applyExitPolicy turns an exit nobody asked to restart into a restart or a
// shutdown of the wrapper.
func (s *Supervisor) applyExitPolicy(restartMsg string) {
	action, rule := s.policy.Decide(s.exitCode)
	s.debugf("Exit code %d matched the %s on_exit rule: %s", s.exitCode, rule, action)
	if action == config.ActionRestart {
		s.logf(logger.LevelStatus, restartMsg, s.exitCode)
		s.restartRequested = RestartConfigured
		return
	}
	s.setWState(WStateStopping)
}

// scheduleLaunch decides the delay before the next invocation, or gives up.
func (s *Supervisor) scheduleLaunch(now tick.Tick, intent Intent) {
	mode := s.restartRequested
	s.restartRequested = RestartNo
	name := s.cfg.Child.Name

	if s.invocations == 0 {
		s.failed = 0
		delay := s.cfg.Wrapper.StartupDelayConsole
		if s.service {
			delay = s.cfg.Wrapper.StartupDelayService
		}
		if delay > 0 {
			s.debugf("Delaying startup for %d seconds.", delay)
		}
		s.setJState(JStateLaunchDelay, now, delay)
		return
	}

	switch {
	case intent == IntentContinuing && s.cfg.Wrapper.StopOnPause:
		s.failed = 0
		s.setJState(JStateLaunchDelay, now, 0)
	case mode == RestartAutomatic && s.cfg.Restart.DisableAutomatic:
		s.logf(logger.LevelStatus, "Automatic JVM Restarts disabled.  Shutting down.")
		s.setWState(WStateStopping)
	case s.cfg.Restart.Disable:
		s.logf(logger.LevelStatus, "JVM Restarts disabled.  Shutting down.")
		s.setWState(WStateStopping)
	case int(tick.AgeSeconds(s.launchTicks, now)) >= s.cfg.Child.SuccessfulInvocation:
		s.failed = 0
		metrics.ResetFailedInvocations(name)
		s.restartAfterDelay(now, mode)
	default:
		s.failed++
		metrics.IncFailedInvocation(name, s.failed)
		s.debugf("JVM was only running for %d seconds leading to a failed restart count of %d.",
			tick.AgeSeconds(s.launchTicks, now), s.failed)
		if s.failed <= s.cfg.Child.MaxFailedInvocations {
			s.restartAfterDelay(now, mode)
			return
		}
		s.logf(logger.LevelFatal, "There were %d failed launches in a row, each lasting less than %d seconds.  Giving up.",
			s.failed, s.cfg.Child.SuccessfulInvocation)
		s.logf(logger.LevelFatal, "  There may be a configuration problem: please check the logs.")
		s.record(history.EventGiveUp, s.exitCode, fmt.Sprintf("failed=%d", s.failed))
		if s.exitCode == 0 {
			s.exitCode = 1
		}
		s.setWState(WStateStopping)
	}
}

func (s *Supervisor) restartAfterDelay(now tick.Tick, mode RestartMode) {
	delay := s.cfg.Restart.Delay
	if delay > 0 {
		s.debugf("Waiting %d seconds before launching another JVM.", delay)
	}
	metrics.IncRestart(s.cfg.Child.Name, mode.String())
	s.record(history.EventRestart, s.exitCode, mode.String())
	s.setJState(JStateLaunchDelay, now, delay)
}

// failLaunch abandons the launch and shuts the wrapper down with code 1.
func (s *Supervisor) failLaunch(format string, args ...any) {
	s.logf(logger.LevelFatal, format, args...)
	s.exitCode = 1
	s.setWState(WStateStopping)
}

func (s *Supervisor) jStateLaunchDelay(now tick.Tick, intent Intent) {
	if !intent.wantsChild() {
		s.setJState(JStateDown, now, -1)
		return
	}
	if s.jTimeout.Set() && !s.jTimeout.Expired(now) {
		return
	}

	if s.invocations > 0 {
		if s.log.RollMode()&logger.RollJVM != 0 {
			s.log.Rotate()
		}
		if s.cfg.Restart.ReloadConfiguration {
			s.logf(logger.LevelStatus, "Reloading Wrapper configuration...")
			if err := s.reloadConfig(); err != nil {
				s.failLaunch("Unable to reload configuration: %v", err)
				return
			}
		}
	}

	if err := s.spec.Validate(); err != nil {
		s.failLaunch("Unable to launch the JVM: %v", err)
		return
	}
	if cmd := s.spec.BuildCommand(); cmd.Err != nil {
		s.failLaunch("Unable to build the JVM command line: %v", cmd.Err)
		return
	}
	key, err := protocol.NewKey()
	if err != nil {
		s.failLaunch("Unable to generate a JVM key: %v", err)
		return
	}
	s.key = key
	if !s.channel.Listening() {
		if err := s.channel.Listen(); err != nil {
			s.failLaunch("Unable to open the protocol port: %v", err)
			return
		}
	}
	s.debugf("Ping settings: interval=%ds, logged interval=%ds, timeout=%ds",
		s.cfg.Child.PingInterval, s.cfg.Child.PingIntervalLogged, s.cfg.Child.PingTimeout)

	if s.invocations > 0 {
		s.setJState(JStateRestart, now, -1)
		return
	}
	s.invocations++
	s.setJState(JStateLaunch, now, -1)
}

// reloadConfig swaps in a freshly read configuration between invocations.
func (s *Supervisor) reloadConfig() error {
	cfg, err := s.reload()
	if err != nil {
		return err
	}
	spec, err := cfg.ChildSpec()
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.spec = spec
	s.policy = NewExitPolicy(cfg.OnExit)
	s.applyDiagnostics(cfg.Diagnostics)
	return nil
}

func (s *Supervisor) jStateRestart(now tick.Tick, intent Intent) {
	if !intent.wantsChild() {
		s.setJState(JStateDown, now, -1)
		return
	}
	s.invocations++
	s.setJState(JStateLaunch, now, -1)
}

func (s *Supervisor) jStateLaunch(now tick.Tick, intent Intent) {
	if !intent.wantsChild() {
		s.setJState(JStateDown, now, -1)
		return
	}
	s.logf(logger.LevelStatus, "Launching a JVM...")
	env := []string{
		EnvPort + "=" + strconv.Itoa(s.channel.Port()),
		EnvKey + "=" + s.key,
		EnvJVMID + "=" + strconv.Itoa(s.invocations),
	}
	s.debugNotified = false
	pid, err := s.launcher.Start(s.spec, env)
	if err != nil {
		s.failLaunch("Unable to start the JVM: %v", err)
		return
	}
	s.pid = pid
	s.launchedAt = time.Now()
	s.launchTicks = now
	s.debugf("JVM started (PID=%d)", pid)
	metrics.IncInvocation(s.cfg.Child.Name)
	s.record(history.EventLaunch, 0, s.spec.Command)
	s.setJState(JStateLaunching, now, delayOr(s.cfg.Child.StartupTimeout, 0))
}

// childTimedOut handles an expired JSTATE timeout. In debug mode the
// timeout is dropped after a one-time warning; otherwise the child is killed
// and an automatic restart requested.
func (s *Supervisor) childTimedOut(now tick.Tick, msg, debugMsg, phase string, restart bool) {
	if s.cfg.Child.Debug {
		s.handleDebugTimeout(now, debugMsg, phase)
		return
	}
	s.logf(logger.LevelError, "%s", msg)
	if restart {
		s.restartRequested = RestartAutomatic
	}
	s.killProcess(now)
}

func (s *Supervisor) handleDebugTimeout(now tick.Tick, msg, phase string) {
	if !s.debugNotified {
		s.logf(logger.LevelWarn, debugDashes)
		s.logf(logger.LevelWarn, "%s", msg)
		s.logf(logger.LevelWarn, "The JVM was launched with debug options so this may be because the JVM")
		s.logf(logger.LevelWarn, "is currently suspended by a debugger.  Any future timeouts during this")
		s.logf(logger.LevelWarn, "JVM invocation will be silently ignored.")
		s.logf(logger.LevelWarn, debugDashes)
		s.debugNotified = true
	}
	if s.diag.state {
		s.logf(logger.LevelStatus, "      DebugJVM timeout.  Disable current %s timeout.", phase)
	}
	s.updateTimeout(now, -1)
}

func (s *Supervisor) adviseLaunchTimeout() {
	lines := []string{
		"",
		debugDashes,
		"Advice:",
		"The child must connect back to the Wrapper promptly after it is launched",
		"or the Wrapper will time out, as just happened.  Check that the command",
		"starts a process which reads " + EnvPort + " and " + EnvKey + " from its",
		"environment, connects to 127.0.0.1 on that port and sends its key.",
		"  Command: " + s.spec.Command,
		debugDashes,
		"",
	}
	for _, l := range lines {
		s.logf(logger.LevelAdvice, "%s", l)
	}
}

func (s *Supervisor) jStateLaunching(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	if !s.jTimeout.Expired(now) {
		return
	}
	if s.cfg.Child.Debug {
		s.handleDebugTimeout(now, "Startup: Timed out waiting for a signal from the JVM.", "startup")
		return
	}
	s.logf(logger.LevelError, "Startup failed: Timed out waiting for a signal from the JVM.")
	s.adviseLaunchTimeout()
	s.restartRequested = RestartAutomatic
	s.killProcess(now)
}

func (s *Supervisor) jStateLaunched(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	s.debugf("Start Application.")
	if err := s.send(protocol.Start, "start"); err != nil {
		s.logf(logger.LevelError, "Unable to send the start command to the JVM.")
		s.restartRequested = RestartAutomatic
		s.killProcess(now)
		return
	}
	s.setJState(JStateStarting, now, delayOr(s.cfg.Child.StartupTimeout, 0))
}

func (s *Supervisor) jStateStarting(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	if s.jTimeout.Expired(now) {
		s.childTimedOut(now,
			"Startup failed: Timed out waiting for signal from JVM.",
			"Startup: Timed out waiting for a signal from the JVM.", "startup", true)
	}
}

func (s *Supervisor) jStateStarted(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	if s.jTimeout.Expired(now) {
		s.childTimedOut(now,
			"JVM appears hung: Timed out waiting for signal from JVM.",
			"Ping: Timed out waiting for signal from JVM.", "ping", true)
		return
	}
	if !tick.Expired(now, tick.Add(s.lastPing, s.cfg.Child.PingInterval)) {
		return
	}
	msg := protocol.SilentPing
	if tick.Expired(now, tick.Add(s.lastLoggedPing, s.cfg.Child.PingIntervalLogged)) {
		msg = "ping"
		s.lastLoggedPing = now
	}
	if err := s.send(protocol.Ping, msg); err != nil {
		s.debugf("JVM Ping Failed.")
	}
	s.lastPing = now
}

func (s *Supervisor) jStateStop(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	s.debugf("Sending stop signal to JVM")
	if err := s.send(protocol.Stop, "stop"); err != nil {
		s.debugf("Unable to send the stop command to the JVM: %v", err)
	}
	s.setJState(JStateStopping, now, delayOr(s.cfg.Child.ShutdownTimeout, 5))
}

func (s *Supervisor) jStateStopping(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	if s.jTimeout.Expired(now) {
		s.childTimedOut(now,
			"Shutdown failed: Timed out waiting for signal from JVM.",
			"Shutdown: Timed out waiting for a signal from the JVM.", "shutdown", false)
	}
}

func (s *Supervisor) jStateStopped(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	if s.jTimeout.Expired(now) {
		s.childTimedOut(now,
			"Shutdown failed: Timed out waiting for the JVM to terminate.",
			"Shutdown: Timed out waiting for the JVM to terminate.", "JVM exit", false)
	}
}

func (s *Supervisor) jStateKilling(now tick.Tick, nextSleep bool) {
	if nextSleep && s.childDown(now) {
		return
	}
	if s.jTimeout.Expired(now) {
		s.setJState(JStateKill, now, -1)
	}
}
