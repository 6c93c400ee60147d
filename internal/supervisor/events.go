package supervisor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/protocol"
)

// dispatch handles one packet from the child.
func (s *Supervisor) dispatch(p protocol.Packet) {
	switch p.Code {
	case protocol.Stop:
		s.debugf("JVM requested a shutdown. (%d)", atoi(p.Message))
		s.stopProcess(atoi(p.Message))
	case protocol.Restart:
		s.logf(logger.LevelStatus, "JVM requested a restart.")
		s.restartProcess()
	case protocol.Ping:
		s.pingResponded()
	case protocol.StopPending:
		s.stopPending(atoi(p.Message))
	case protocol.Stopped:
		s.stoppedSignalled()
	case protocol.StartPending:
		s.startPending(atoi(p.Message))
	case protocol.Started:
		s.startedSignalled()
	case protocol.Key:
		s.keyRegistered(p.Message)
	default:
		if lvl, ok := p.Code.LogLevel(); ok {
			s.debugf("Got a log message from JVM: %s", p.Message)
			s.log.Log(s.invocations, logger.Level(lvl), "%s", p.Message)
			return
		}
		s.log.Log(logger.SourceProtocol, logger.LevelDebug, "received unknown packet (%d:%s)", p.Code, p.Message)
	}
}

func (s *Supervisor) send(code protocol.Code, msg string) error {
	return s.channel.Send(code, msg)
}

func (s *Supervisor) keyRegistered(key string) {
	s.debugf("Got key from JVM: %s", key)
	now := s.clock.Ticks()
	switch s.jState {
	case JStateLaunching:
		if key != s.key {
			s.logf(logger.LevelError, "Received a connection request with an incorrect key.  Waiting for another connection.")
			_ = s.send(protocol.BadKey, "Incorrect key.  Connection rejected.")
			// the real child may still connect; the launch timeout covers it
			s.channel.CloseConn()
			return
		}
		s.setJState(JStateLaunched, now, -1)
		_ = s.send(protocol.LowLogLevel, strconv.Itoa(int(s.log.LowestLevel())))
		_ = s.send(protocol.PingTimeout, strconv.Itoa(s.cfg.Child.PingTimeout))
		_ = s.send(protocol.Properties, s.properties())
	case JStateStopping:
		// the child registered while we were already stopping: ask it again
		s.setJState(JStateStop, now, -1)
	}
}

func (s *Supervisor) pingResponded() {
	if s.jState == JStateStarted {
		s.updateTimeout(s.clock.Ticks(), delayOr(s.cfg.Child.PingTimeout, 5))
	}
}

func (s *Supervisor) stopPending(waitHint int) {
	s.debugf("JVM signalled a stop pending with waitHint of %d millis.", waitHint)
	now := s.clock.Ticks()
	if s.jState == JStateStarted {
		s.setJState(JStateStopping, now, -1)
	}
	if s.jState == JStateStopping {
		s.updateTimeout(now, hintSeconds(waitHint))
	}
}

func (s *Supervisor) stoppedSignalled() {
	s.debugf("JVM signalled that it was stopped.")
	s.setJState(JStateStopped, s.clock.Ticks(), delayOr(s.cfg.Child.ExitTimeout, 5))
}

func (s *Supervisor) startPending(waitHint int) {
	s.debugf("JVM signalled a start pending with waitHint of %d millis.", waitHint)
	// STOPPING is included because a stop requested during startup is only
	// noticed once the application has started
	if s.jState == JStateStarting || s.jState == JStateStopping {
		s.updateTimeout(s.clock.Ticks(), hintSeconds(waitHint))
	}
}

func (s *Supervisor) startedSignalled() {
	s.debugf("JVM signalled that it was started.")
	now := s.clock.Ticks()
	switch s.jState {
	case JStateStarting:
		s.setJState(JStateStarted, now, delayOr(s.cfg.Child.PingTimeout, 5))
		if s.wState == WStateStarting {
			s.setWState(WStateStarted)
			s.reporter.Report(WStateStarted, 0, 0)
		}
	case JStateStopping:
		s.setJState(JStateStop, now, -1)
	}
}

// hintSeconds rounds a millisecond wait hint up to whole seconds.
func hintSeconds(ms int) int {
	if ms < 0 {
		ms = 0
	}
	return (ms + 999) / 1000
}

// atoi parses the leading integer of s and returns 0 when there is none.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// properties is the configuration snapshot sent to a freshly registered
// child, one key=value pair per tab-separated field.
func (s *Supervisor) properties() string {
	props := map[string]string{
		"jwrapper.name":             s.cfg.Child.Name,
		"jwrapper.jvmid":            strconv.Itoa(s.invocations),
		"jwrapper.port":             strconv.Itoa(s.channel.Port()),
		"jwrapper.ping.interval":    strconv.Itoa(s.cfg.Child.PingInterval),
		"jwrapper.ping.timeout":     strconv.Itoa(s.cfg.Child.PingTimeout),
		"jwrapper.startup.timeout":  strconv.Itoa(s.cfg.Child.StartupTimeout),
		"jwrapper.shutdown.timeout": strconv.Itoa(s.cfg.Child.ShutdownTimeout),
		"jwrapper.debug":            strconv.FormatBool(s.cfg.Child.Debug),
	}
	if s.cfg.Path() != "" {
		props["jwrapper.config"] = s.cfg.Path()
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\t')
		}
		fmt.Fprintf(&b, "%s=%s", k, props[k])
	}
	return b.String()
}
