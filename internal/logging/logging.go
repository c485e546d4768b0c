// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger on w (stderr when nil). Verbose enables debug
// records; jsonFormat switches to one JSON object per line.
func New(w io.Writer, verbose, jsonFormat bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
