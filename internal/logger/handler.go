package logger

import (
	"context"
	"log/slog"
	"strings"
)

// Handler adapts the logger to slog so packages that take a *slog.Logger
// (the HTTP API, history sinks) write through the same targets.
type Handler struct {
	l      *Logger
	slot   Slot
	source int
	// attrs holds the WithAttrs pairs, already rendered and qualified by
	// the groups open when they were added.
	attrs string
	group string
}

// SlogHandler returns a handler writing as source from slot.
func (l *Logger) SlogHandler(slot Slot, source int) *Handler {
	return &Handler{l: l, slot: slot, source: source}
}

// Slog returns a *slog.Logger backed by SlogHandler.
func (l *Logger) Slog(slot Slot, source int) *slog.Logger {
	return slog.New(l.SlogHandler(slot, source))
}

func fromSlog(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	}
	return LevelDebug
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.l.Enabled(fromSlog(level))
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	if group != "" {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.Resolve().String())
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	h.l.LogFrom(h.slot, h.source, fromSlog(r.Level), "%s", b.String())
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	nh := *h
	nh.attrs = b.String()
	return &nh
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if nh.group != "" {
		nh.group += "." + name
	} else {
		nh.group = name
	}
	return &nh
}
