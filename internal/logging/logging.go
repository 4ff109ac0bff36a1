// Package logging defines the minimal injected logger the orchestrator and
// transport use: a single Printf-style method plus a noop default, so
// callers that don't care about logs pass nothing.
package logging

import "log"

// Logger is the capability injected into the orchestrator and the p2p
// transport. Kept to a single Printf-style method.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Standard wraps the standard library's *log.Logger.
type Standard struct {
	L *log.Logger
}

func (s Standard) Printf(format string, v ...interface{}) { s.L.Printf(format, v...) }

// Noop discards everything. Used as the default when no logger is injected.
type Noop struct{}

func (Noop) Printf(string, ...interface{}) {}

// Default returns logger if non-nil, else Noop{}.
func Default(logger Logger) Logger {
	if logger == nil {
		return Noop{}
	}
	return logger
}
