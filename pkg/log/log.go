// Package log provides construction helpers for the slog loggers the
// library components take.
package log

import (
	"io"
	"log/slog"
)

// NewJSON returns a slog logger writing JSON records to w, suitable for a
// rotating file sink.
func NewJSON(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
