package logger

import (
	"context"
	"io"
	"log/slog"
)

// ColorTextHandler wraps slog.TextHandler to add ANSI color codes for
// different log levels. Color is only worth emitting for an interactive
// terminal; clier's daemon writes every handler instance straight to a
// lumberjack-rotated file (combined.log and error.log), so color is
// switched off there to keep rotated files grep-friendly plain text.
type ColorTextHandler struct {
	*slog.TextHandler
	color bool
}

// NewColorTextHandler creates a new ColorTextHandler. color enables ANSI
// level coloring; pass false for any handler backing a rotated log file.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		color:       color,
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.color {
		return h.TextHandler.Handle(ctx, r)
	}

	colorCode := levelColor(r.Level)
	originalMsg := r.Message
	r.Message = colorCode + r.Level.String() + "\033[0m  " + originalMsg
	return h.TextHandler.Handle(ctx, r)
}

func levelColor(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "\033[36m" // Cyan
	case slog.LevelInfo:
		return "\033[32m" // Green
	case slog.LevelWarn:
		return "\033[33m" // Yellow
	case slog.LevelError:
		return "\033[31m" // Red
	default:
		return "\033[0m" // Reset/default
	}
}
