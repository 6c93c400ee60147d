package protocol

import "strconv"

// Code is the first byte of every packet.
type Code byte

const (
	Start              Code = 100
	Stop               Code = 101
	Restart            Code = 102
	Ping               Code = 103
	StopPending        Code = 104
	StartPending       Code = 105
	Started            Code = 106
	Stopped            Code = 107
	Key                Code = 110
	BadKey             Code = 111
	LowLogLevel        Code = 112
	PingTimeout        Code = 113
	ServiceControlCode Code = 114
	Properties         Code = 115
	// Log is the base of the LOG range; the child adds its level (1-6).
	Log Code = 116
)

// MaxMessage bounds the text of a packet. Longer input is truncated.
const MaxMessage = 4096

// SilentPing is the ping payload that is never traced.
const SilentPing = "silent"

var codeNames = map[Code]string{
	Start: "START", Stop: "STOP", Restart: "RESTART", Ping: "PING",
	StopPending: "STOP_PENDING", StartPending: "START_PENDING",
	Started: "STARTED", Stopped: "STOPPED", Key: "KEY", BadKey: "BADKEY",
	LowLogLevel: "LOW_LOG_LEVEL", PingTimeout: "PING_TIMEOUT",
	ServiceControlCode: "SERVICE_CONTROL_CODE", Properties: "PROPERTIES",
}

var logLevelNames = []string{"", "DEBUG", "INFO", "STATUS", "WARN", "ERROR", "FATAL"}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	if lvl, ok := c.LogLevel(); ok {
		return "LOG(" + logLevelNames[lvl] + ")"
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

// LogLevel reports the level carried by a LOG packet code.
func (c Code) LogLevel() (int, bool) {
	if c > Log && c <= Log+6 {
		return int(c - Log), true
	}
	return 0, false
}

// Packet is one decoded message.
type Packet struct {
	Code    Code
	Message string
}

// Encode renders a packet as code byte, text and NUL terminator.
func Encode(code Code, msg string) []byte {
	if len(msg) > MaxMessage {
		msg = msg[:MaxMessage]
	}
	b := make([]byte, 0, len(msg)+2)
	b = append(b, byte(code))
	b = append(b, msg...)
	return append(b, 0)
}

// decode parses a raw frame that still carries its trailing NUL.
func decode(frame []byte) Packet {
	if len(frame) == 0 {
		return Packet{}
	}
	body := frame[1:]
	if n := len(body); n > 0 && body[n-1] == 0 {
		body = body[:n-1]
	}
	if len(body) > MaxMessage {
		body = body[:MaxMessage]
	}
	return Packet{Code: Code(frame[0]), Message: string(body)}
}
