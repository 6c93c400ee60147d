package supervisor

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/jwrapper/internal/logger"
	"github.com/loykin/jwrapper/internal/protocol"
	"github.com/loykin/jwrapper/internal/tick"
)

// maxCommandLine is the longest command line read; the rest is dropped.
const maxCommandLine = 80

// parseCommandLine splits a line into its command and parameter.
func parseCommandLine(line string) (cmd, param string) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) > maxCommandLine {
		line = line[:maxCommandLine]
	}
	cmd, param, _ = strings.Cut(line, " ")
	return cmd, strings.TrimLeft(param, " ")
}

// commandPoll consumes the command file when its interval has elapsed or the
// watcher saw it change.
func (s *Supervisor) commandPoll(now tick.Tick) {
	path := s.cfg.Wrapper.CommandFile
	if path == "" {
		return
	}
	triggered := s.watcher != nil && s.watcher.take()
	if !triggered && !tick.Expired(now, s.commandTimeout) {
		return
	}
	defer func() { s.commandTimeout = tick.Add(now, s.cfg.Wrapper.CommandPollInterval) }()

	if s.diag.loop {
		s.logf(logger.LevelStatus, "    Command poll: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	var f *os.File
	var err error
	for attempt := 0; attempt < fileAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryDelay)
		}
		if f, err = os.Open(path); err == nil {
			break
		}
	}
	if f == nil {
		s.logf(logger.LevelWarn, "Unable to read the command file: %s", path)
		return
	}

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	_ = f.Close()

	for _, line := range lines {
		s.runCommand(parseCommandLine(line))
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logf(logger.LevelFatal, "Unable to delete the command file, %s: %v", path, err)
	}
}

func (s *Supervisor) runCommand(cmd, param string) {
	name := strings.ToUpper(cmd)
	switch name {
	case "RESTART":
		s.logf(logger.LevelStatus, "Command '%s'. Restarting JVM.", cmd)
		s.restartProcess()
	case "STOP":
		code := atoi(param)
		s.logf(logger.LevelStatus, "Command '%s'. Shutting down with exit code %d.", cmd, code)
		s.stopProcess(code)
	case "PAUSE":
		s.logf(logger.LevelStatus, "Command '%s'. Pausing JVM.", cmd)
		s.pauseProcess()
	case "RESUME":
		s.logf(logger.LevelStatus, "Command '%s'. Resuming JVM.", cmd)
		s.resumeProcess()
	case "DUMP":
		s.logf(logger.LevelStatus, "Command '%s'. Requesting a Thread Dump.", cmd)
		s.requestDump()
	case "CONSOLE_LOGLEVEL":
		s.setLogLevel(cmd, param, logger.TargetConsole, "console")
	case "LOGFILE_LOGLEVEL":
		s.setLogLevel(cmd, param, logger.TargetFile, "log file")
	case "SYSLOG_LOGLEVEL":
		s.setLogLevel(cmd, param, logger.TargetExternal, "syslog")
	case "LOOP_OUTPUT":
		s.diag.loop = s.toggle(cmd, param, "loop output")
	case "STATE_OUTPUT":
		s.diag.state = s.toggle(cmd, param, "state output")
	case "MEMORY_OUTPUT":
		s.diag.memory = s.toggle(cmd, param, "memory output")
	case "CPU_OUTPUT":
		s.diag.cpu = s.toggle(cmd, param, "cpu output")
	case "TIMER_OUTPUT":
		s.diag.timer = s.toggle(cmd, param, "timer output")
	case "SLEEP_OUTPUT":
		s.diag.sleep = s.toggle(cmd, param, "sleep output")
	default:
		s.logf(logger.LevelWarn, "Command '%s' is unknown, ignoring.", cmd)
	}
}

func (s *Supervisor) toggle(cmd, param, what string) bool {
	on := strings.EqualFold(param, "TRUE")
	if on {
		s.logf(logger.LevelStatus, "Command '%s'. Enable %s.", cmd, what)
	} else {
		s.logf(logger.LevelStatus, "Command '%s'. Disable %s.", cmd, what)
	}
	return on
}

func (s *Supervisor) setLogLevel(cmd, param string, target logger.Target, what string) {
	if param == "" {
		s.logf(logger.LevelWarn, "Command '%s' is missing its log level.", cmd)
		return
	}
	level, err := logger.ParseLevel(param)
	if err != nil {
		s.logf(logger.LevelWarn, "Command '%s' specified an unknown log level: '%s'", cmd, param)
		return
	}
	s.applyLogLevel(target, level)
	s.logf(logger.LevelStatus, "Command '%s'. Set %s log level to '%s'.", cmd, what, level)
}

// applyLogLevel changes the threshold of one logger target and tells the
// child when the lowest enabled level moved.
func (s *Supervisor) applyLogLevel(target logger.Target, level logger.Level) {
	before := s.log.LowestLevel()
	s.log.SetLevel(target, level)
	if after := s.log.LowestLevel(); after != before && s.channel.Connected() {
		_ = s.send(protocol.LowLogLevel, strconv.Itoa(int(after)))
	}
}
