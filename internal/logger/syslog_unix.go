//go:build !windows

package logger

import (
	"fmt"
	"log/syslog"
	"strings"
)

var facilities = map[string]syslog.Priority{
	"KERN": syslog.LOG_KERN, "USER": syslog.LOG_USER, "MAIL": syslog.LOG_MAIL,
	"DAEMON": syslog.LOG_DAEMON, "AUTH": syslog.LOG_AUTH, "SYSLOG": syslog.LOG_SYSLOG,
	"LPR": syslog.LOG_LPR, "NEWS": syslog.LOG_NEWS, "UUCP": syslog.LOG_UUCP,
	"CRON": syslog.LOG_CRON, "AUTHPRIV": syslog.LOG_AUTHPRIV, "FTP": syslog.LOG_FTP,
	"LOCAL0": syslog.LOG_LOCAL0, "LOCAL1": syslog.LOG_LOCAL1, "LOCAL2": syslog.LOG_LOCAL2,
	"LOCAL3": syslog.LOG_LOCAL3, "LOCAL4": syslog.LOG_LOCAL4, "LOCAL5": syslog.LOG_LOCAL5,
	"LOCAL6": syslog.LOG_LOCAL6, "LOCAL7": syslog.LOG_LOCAL7,
}

type syslogSink struct {
	w *syslog.Writer
}

// NewSyslogSink connects to the local syslog daemon.
func NewSyslogSink(cfg SyslogConfig) (ExternalSink, error) {
	fac, ok := facilities[strings.ToUpper(strings.TrimSpace(cfg.Facility))]
	if !ok {
		fac = syslog.LOG_USER
	}
	tag := cfg.Tag
	if tag == "" {
		tag = "jwrapper"
	}
	w, err := syslog.New(fac|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("connect syslog: %w", err)
	}
	return &syslogSink{w: w}, nil
}

func (s *syslogSink) Send(source int, level Level, msg string) error {
	if source >= 0 {
		msg = fmt.Sprintf("jvm %d | %s", source, msg)
	}
	switch level {
	case LevelFatal:
		return s.w.Crit(msg)
	case LevelError:
		return s.w.Err(msg)
	case LevelWarn:
		return s.w.Warning(msg)
	case LevelStatus:
		return s.w.Notice(msg)
	case LevelDebug:
		return s.w.Debug(msg)
	}
	return s.w.Info(msg)
}

func (s *syslogSink) Close() error { return s.w.Close() }
