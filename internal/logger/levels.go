package logger

import (
	"fmt"
	"strconv"
	"strings"
)

// Level orders log severities. ADVICE sits above FATAL so operator guidance
// is always shown on the console and in the log file, yet it is never sent
// to the external sink.
type Level int

const (
	LevelUnknown Level = iota
	LevelDebug
	LevelInfo
	LevelStatus
	LevelWarn
	LevelError
	LevelFatal
	LevelAdvice
	LevelNone
)

var levelNames = [...]string{"NOTICE", "DEBUG", "INFO", "STATUS", "WARN", "ERROR", "FATAL", "ADVICE", "NONE"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

// ParseLevel converts a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "STATUS":
		return LevelStatus, nil
	case "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	case "ADVICE":
		return LevelAdvice, nil
	case "NONE":
		return LevelNone, nil
	}
	return LevelUnknown, fmt.Errorf("unknown log level %q", s)
}

// Source identifies who produced a line. Non-negative values are child
// invocation numbers.
const (
	SourceWrapper  = -1
	SourceProtocol = -2
)

// Slot is a logical caller thread. Each slot owns a queue ring and a reusable
// format buffer.
type Slot int

const (
	SlotSignal Slot = iota
	SlotMain
	SlotSrvMain
	SlotTimer
	SlotCount
)

func (s Slot) String() string {
	switch s {
	case SlotSignal:
		return "signal"
	case SlotMain:
		return "main"
	case SlotSrvMain:
		return "srvmain"
	case SlotTimer:
		return "timer"
	}
	return "unknown"
}

// RollMode selects when the log file is rolled. Modes combine as bit flags.
type RollMode int

const (
	RollNone    RollMode = 1
	RollSize    RollMode = 2
	RollWrapper RollMode = 4
	RollJVM     RollMode = 8
	RollDate    RollMode = 16

	RollSizeOrWrapper = RollSize | RollWrapper
	RollSizeOrJVM     = RollSize | RollJVM
)

// ParseRollMode parses a roll mode name. Unknown names fall back to SIZE.
func ParseRollMode(s string) RollMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return RollNone
	case "WRAPPER":
		return RollWrapper
	case "JVM":
		return RollJVM
	case "SIZE_OR_WRAPPER":
		return RollSizeOrWrapper
	case "SIZE_OR_JVM":
		return RollSizeOrJVM
	case "DATE":
		return RollDate
	}
	return RollSize
}

func (m RollMode) String() string {
	switch m {
	case RollNone:
		return "NONE"
	case RollSize:
		return "SIZE"
	case RollWrapper:
		return "WRAPPER"
	case RollJVM:
		return "JVM"
	case RollSizeOrWrapper:
		return "SIZE_OR_WRAPPER"
	case RollSizeOrJVM:
		return "SIZE_OR_JVM"
	case RollDate:
		return "DATE"
	}
	return "UNKNOWN"
}

// ParseSize parses a byte count with an optional k or m suffix
// ("512", "100k", "10m"). Empty or invalid input yields 0, meaning unlimited.
func ParseSize(s string) int64 {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n * mult
}
