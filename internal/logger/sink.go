package logger

import "strings"

// ExternalSink receives lines at or above the configured external level.
// ADVICE lines are never delivered.
type ExternalSink interface {
	Send(source int, level Level, msg string) error
	Close() error
}

// SyslogConfig configures the system log sink.
type SyslogConfig struct {
	Level    Level
	Facility string
	Tag      string
}

var facilityNames = []string{
	"KERN", "USER", "MAIL", "DAEMON", "AUTH", "SYSLOG", "LPR", "NEWS",
	"UUCP", "CRON", "AUTHPRIV", "FTP",
	"LOCAL0", "LOCAL1", "LOCAL2", "LOCAL3", "LOCAL4", "LOCAL5", "LOCAL6", "LOCAL7",
}

// ValidFacility reports whether name is a known syslog facility.
func ValidFacility(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, f := range facilityNames {
		if f == name {
			return true
		}
	}
	return false
}
