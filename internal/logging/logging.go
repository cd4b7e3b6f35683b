// Package logging provides the process-wide structured logger used by every
// beamroomd component. It mirrors the teacher daemon's single global logger
// with per-subsystem tagging, swapped from stdlib log to zerolog so
// severity, component, and structured fields survive being piped or
// aggregated.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.Mutex
	base   zerolog.Logger
	inited bool
)

// Init configures the global base logger. Safe to call multiple times; the
// last call wins. When w is nil, logs go to a console writer on stderr if
// stderr is a terminal, otherwise to raw JSON on stderr.
func Init(level zerolog.Level, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		if isTerminal(os.Stderr) {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
		} else {
			w = os.Stderr
		}
	}
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
	inited = true
}

// For returns a sub-logger tagged with the given component name, e.g.
// "control.host" or "mediaplane.viewer". If Init has not been called, a
// sane info-level default is installed first.
func For(component string) zerolog.Logger {
	mu.Lock()
	if !inited {
		mu.Unlock()
		Init(zerolog.InfoLevel, nil)
		mu.Lock()
	}
	l := base
	mu.Unlock()
	return l.With().Str("component", component).Logger()
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
