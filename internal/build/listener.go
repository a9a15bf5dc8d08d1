// Package build describes the build a step runs in: its workspace, its
// environment and variables, and the log everything is reported to.
package build

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Listener is the build log. Step diagnostics are written as log lines and
// process output is streamed to Writer unchanged.
type Listener struct {
	out    io.Writer
	logger *log.Logger
}

// NewListener creates a listener writing to w.
func NewListener(w io.Writer) *Listener {
	if w == nil {
		w = os.Stdout
	}
	return &Listener{
		out: w,
		logger: log.NewWithOptions(w, log.Options{
			Prefix: "msrun",
		}),
	}
}

// Writer returns the raw build log stream.
func (l *Listener) Writer() io.Writer {
	return l.out
}

// Logger exposes the underlying logger, e.g. to raise its level.
func (l *Listener) Logger() *log.Logger {
	return l.logger
}

// Printf writes an informational line.
func (l *Listener) Printf(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Debugf writes a line that only shows up at debug level.
func (l *Listener) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// FatalError reports a condition that fails the build step.
func (l *Listener) FatalError(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}
