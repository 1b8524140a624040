// Package logging builds the daemon's structured logger: a colorized
// console handler when attached to a terminal, plain text otherwise.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New returns a slog.Logger writing to w (os.Stdout in production). Color
// is enabled only when w is an *os.File attached to a terminal.
func New(w io.Writer, level slog.Level) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    noColor,
		TimeFormat: "15:04:05",
	})
	return slog.New(handler)
}

// NewFile returns a plain structured logger for a non-interactive sink,
// such as a log file shared with the control API's log viewer.
func NewFile(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
