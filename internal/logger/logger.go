package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ConsoleConfig configures the console target.
type ConsoleConfig struct {
	Level  Level
	Format string
	Flush  bool // flush after every line
	Color  bool
	Writer io.Writer // defaults to stdout
}

// Config is the complete logger configuration.
type Config struct {
	Console ConsoleConfig
	File    FileConfig
	// External receives lines at or above ExternalLevel. Nil disables it.
	External      ExternalSink
	ExternalLevel Level
	// Warn receives the logger's own diagnostics. Defaults to stdout.
	Warn io.Writer
	Now  func() time.Time
}

// Logger fans lines out to the console, a rolling log file and an optional
// external sink. Direct calls are serialized by a mutex; LogQueued callers
// never take it and are flushed by DrainQueue.
type Logger struct {
	mu       sync.Mutex
	console  *bufio.Writer
	conCfg   ConsoleConfig
	file     *fileTarget
	ext      ExternalSink
	extLevel Level
	warn     io.Writer
	now      func() time.Time

	queues   [SlotCount]ring
	msgBufs  [SlotCount][]byte
	line     []byte
	minLevel atomic.Int32
	activity atomic.Uint64
}

// New builds a logger. Zero levels default to INFO for console and file.
func New(cfg Config) *Logger {
	l := &Logger{}
	l.apply(cfg)
	return l
}

func (l *Logger) apply(cfg Config) {
	if cfg.Console.Writer == nil {
		cfg.Console.Writer = os.Stdout
	}
	if cfg.Console.Format == "" {
		cfg.Console.Format = DefaultConsoleFormat
	}
	if cfg.Console.Level == LevelUnknown {
		cfg.Console.Level = LevelInfo
	}
	if cfg.File.Level == LevelUnknown {
		cfg.File.Level = LevelInfo
	}
	if cfg.ExternalLevel == LevelUnknown {
		cfg.ExternalLevel = LevelNone
	}
	if cfg.Warn == nil {
		cfg.Warn = os.Stdout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l.conCfg = cfg.Console
	l.console = bufio.NewWriter(cfg.Console.Writer)
	l.file = newFileTarget(cfg.File, cfg.Warn)
	l.ext = cfg.External
	l.extLevel = cfg.ExternalLevel
	l.warn = cfg.Warn
	l.now = cfg.Now
	l.updateMinLevel()
}

// Reconfigure swaps targets and levels in place. Pending queue entries are
// kept.
func (l *Logger) Reconfigure(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.console.Flush()
	l.file.close()
	if l.ext != nil && l.ext != cfg.External {
		_ = l.ext.Close()
	}
	l.apply(cfg)
}

func (l *Logger) updateMinLevel() {
	lowest := l.conCfg.Level
	if l.file.cfg.Path != "" && l.file.cfg.Level < lowest {
		lowest = l.file.cfg.Level
	}
	if l.ext != nil && l.extLevel < lowest {
		lowest = l.extLevel
	}
	l.minLevel.Store(int32(lowest))
}

// Enabled reports whether a line at level reaches any target.
func (l *Logger) Enabled(level Level) bool {
	return level >= Level(l.minLevel.Load())
}

// LowestLevel is the lowest level accepted by any target.
func (l *Logger) LowestLevel() Level { return Level(l.minLevel.Load()) }

// Log writes a line from the main slot.
func (l *Logger) Log(source int, level Level, format string, args ...any) {
	l.LogFrom(SlotMain, source, level, format, args...)
}

// LogFrom writes a line on behalf of slot.
func (l *Logger) LogFrom(slot Slot, source int, level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	if slot < 0 || slot >= SlotCount {
		slot = SlotMain
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(l.warn, "Unable to format log message: %v\n", r)
		}
	}()
	l.msgBufs[slot] = fmt.Appendf(l.msgBufs[slot][:0], format, args...)
	l.dispatchLocked(slot, source, level, false, string(l.msgBufs[slot]))
}

// LogQueued defers the line to the next DrainQueue when useQueue is set.
// It never blocks and is safe from signal-handling goroutines. When the
// slot's ring is full the oldest entry is dropped.
func (l *Logger) LogQueued(useQueue bool, slot Slot, source int, level Level, format string, args ...any) {
	if !useQueue {
		l.LogFrom(slot, source, level, format, args...)
		return
	}
	if !l.Enabled(level) {
		return
	}
	if slot < 0 || slot >= SlotCount {
		slot = SlotSignal
	}
	e := &queueEntry{source: source, level: level, msg: fmt.Sprintf(format, args...)}
	if l.queues[slot].push(e) {
		fmt.Fprintf(l.warn, "WARNING: log queue overflow for the %s thread, dropping the oldest entry.\n", slot)
	}
}

// DrainQueue dispatches every queued line, slot by slot, in enqueue order.
func (l *Logger) DrainQueue() {
	for s := Slot(0); s < SlotCount; s++ {
		q := &l.queues[s]
		if q.len() == 0 {
			continue
		}
		l.mu.Lock()
		for {
			e, ok := q.pop()
			if !ok {
				break
			}
			l.dispatchLocked(s, e.source, e.level, true, e.msg)
		}
		l.mu.Unlock()
	}
}

// Dropped is the number of queued lines lost to overflow.
func (l *Logger) Dropped() uint64 {
	var n uint64
	for s := range l.queues {
		n += l.queues[s].dropped.Load()
	}
	return n
}

func (l *Logger) dispatchLocked(slot Slot, source int, level Level, queued bool, msg string) {
	now := l.now()
	date := ""
	if l.file.dateMode() {
		date = now.Format("20060102")
	}
	toFile := l.file.cfg.Path != "" && level >= l.file.cfg.Level
	for _, part := range strings.Split(msg, "\n") {
		if level >= l.conCfg.Level {
			l.line = appendLine(l.line[:0], l.conCfg.Format, source, level, slot, queued, now, part)
			if l.conCfg.Color {
				l.line = colorize(l.line, level)
			}
			l.line = append(l.line, '\n')
			_, _ = l.console.Write(l.line)
			if l.conCfg.Flush {
				_ = l.console.Flush()
			}
		}
		if toFile {
			l.line = appendLine(l.line[:0], l.file.cfg.Format, source, level, slot, queued, now, part)
			l.line = append(l.line, '\n')
			if err := l.file.write(l.line, date); err != nil {
				// the rest of this message would fail the same way
				toFile = false
			} else {
				l.activity.Add(1)
			}
		}
	}
	if l.ext != nil && level != LevelAdvice && level >= l.extLevel {
		_ = l.ext.Send(source, level, msg)
	}
}

// Target names a log destination for runtime level changes.
type Target int

const (
	TargetConsole Target = iota
	TargetFile
	TargetExternal
)

// ParseTarget accepts "console", "logfile" (or "file") and "syslog".
func ParseTarget(s string) (Target, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "console":
		return TargetConsole, true
	case "logfile", "file":
		return TargetFile, true
	case "syslog", "external":
		return TargetExternal, true
	}
	return 0, false
}

func (t Target) String() string {
	switch t {
	case TargetConsole:
		return "console"
	case TargetFile:
		return "logfile"
	}
	return "syslog"
}

// SetLevel changes the threshold of target.
func (l *Logger) SetLevel(target Target, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch target {
	case TargetConsole:
		l.conCfg.Level = level
	case TargetFile:
		l.file.cfg.Level = level
	case TargetExternal:
		l.extLevel = level
	}
	l.updateMinLevel()
}

// Level is the threshold of target.
func (l *Logger) Level(target Target) Level {
	c, f, e := l.Levels()
	switch target {
	case TargetConsole:
		return c
	case TargetFile:
		return f
	}
	return e
}

// Levels returns the console, file and external thresholds.
func (l *Logger) Levels() (console, file, external Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conCfg.Level, l.file.cfg.Level, l.extLevel
}

// SetAutoClose toggles closing the log file after every write.
func (l *Logger) SetAutoClose(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.cfg.AutoClose = v
	if v {
		l.file.close()
	}
}

// RollMode is the configured log file roll mode.
func (l *Logger) RollMode() RollMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.cfg.RollMode
}

// Rotate rolls the log file now. In DATE mode it closes the file and
// purges old dates on the next write.
func (l *Logger) Rotate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.rotate()
}

// CurrentFile is the name of the open log file, or of the file the next
// write will open.
func (l *Logger) CurrentFile() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file.isOpen() {
		return l.file.name
	}
	return l.file.currentName(l.now().Format("20060102"))
}

// Activity increases with every line written to the log file.
func (l *Logger) Activity() uint64 { return l.activity.Load() }

// Flush pushes buffered console and file output to the OS.
func (l *Logger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.console.Flush()
	l.file.flush()
}

// CloseLogfile closes the log file; the next write reopens it.
func (l *Logger) CloseLogfile() {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.console.Flush()
	l.file.close()
}

// Close drains the queues and releases every target.
func (l *Logger) Close() error {
	l.DrainQueue()
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.console.Flush()
	l.file.close()
	if l.ext != nil {
		err := l.ext.Close()
		l.ext = nil
		return err
	}
	return nil
}
