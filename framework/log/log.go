// Package log wraps github.com/hashicorp/go-hclog with the narrow call
// shape every module in this tree actually uses: a named sink plus a
// handful of message/keyvals helpers, instead of the full hclog.Logger
// surface.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	rootMu sync.Mutex
	root   hclog.Logger
)

func rootLogger() hclog.Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	if root == nil {
		root = hclog.New(&hclog.LoggerOptions{
			Name:   "mailstore",
			Output: os.Stderr,
			Level:  hclog.Info,
		})
	}
	return root
}

// SetOutput reconfigures the process-wide root logger, used by cmd's
// startup to switch the root logger to debug level when --debug is given.
func SetOutput(opts *hclog.LoggerOptions) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = hclog.New(opts)
}

// Logger is a named logging handle, one per module instance, matching
// the log.Logger{Name: s.modName} construction every backend's Init uses.
type Logger struct {
	Name  string
	Debug bool
}

func (l Logger) hc() hclog.Logger {
	hl := rootLogger().Named(l.Name)
	if l.Debug {
		hl.SetLevel(hclog.Debug)
	}
	return hl
}

// Msg logs an informational message with structured key/value pairs.
func (l Logger) Msg(msg string, args ...interface{}) {
	l.hc().Info(msg, args...)
}

// DebugMsg logs at debug level; suppressed unless Debug is set or the
// root logger itself is at debug level.
func (l Logger) DebugMsg(msg string, args ...interface{}) {
	l.hc().Debug(msg, args...)
}

// Error logs msg together with the wrapped error.
func (l Logger) Error(msg string, err error, args ...interface{}) {
	l.hc().Error(msg, append([]interface{}{"error", err}, args...)...)
}

// Println logs a plain line at info level, for call sites ported from
// fmt.Println-style diagnostics.
func (l Logger) Println(args ...interface{}) {
	l.hc().Info(fmt.Sprint(args...))
}

// Printf logs a formatted line at info level.
func (l Logger) Printf(format string, args ...interface{}) {
	l.hc().Info(fmt.Sprintf(format, args...))
}
