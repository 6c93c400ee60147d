//go:build windows

package logger

import "errors"

// NewSyslogSink is unavailable on Windows.
func NewSyslogSink(cfg SyslogConfig) (ExternalSink, error) {
	return nil, errors.New("syslog is not supported on windows")
}
