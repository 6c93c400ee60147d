package logger

import (
	"context"
	"io"
	"log/slog"
)

const colorReset = "\033[0m"

// ColorTextHandler wraps slog.TextHandler to add ANSI color codes for different log levels.
// It is used for bootstrap output before the wrapper logger is configured.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Message = levelColor(fromSlog(r.Level)) + r.Level.String() + colorReset + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return "\033[36m" // Cyan
	case LevelInfo:
		return "\033[32m" // Green
	case LevelStatus:
		return "\033[1;32m"
	case LevelWarn:
		return "\033[33m" // Yellow
	case LevelError, LevelFatal:
		return "\033[31m" // Red
	case LevelAdvice:
		return "\033[35m"
	}
	return colorReset
}

// colorize wraps an already rendered console line.
func colorize(line []byte, level Level) []byte {
	c := levelColor(level)
	out := make([]byte, 0, len(line)+len(c)+len(colorReset))
	out = append(out, c...)
	out = append(out, line...)
	return append(out, colorReset...)
}
