// Package log provides the structured logger threaded through every
// constructor in this repo, grounded on grafana-tempo's go-kit/log
// usage: a single leveled logger built at the composition root, never
// a package-level global.
package log

import (
	"io"
	"os"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger wraps a go-kit logger with a swappable output, so SIGTTIN can
// reopen the log file without restarting the process.
type Logger struct {
	mu       sync.Mutex
	minLevel level.Option
	l        kitlog.Logger
}

// New builds a Logger writing logfmt lines to w (os.Stderr if nil) at
// the given minimum level ("debug", "info", "warn", "error").
func New(w io.Writer, minLevel string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	lg := &Logger{minLevel: levelOption(minLevel)}
	lg.reset(w)
	return lg
}

func levelOption(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func (lg *Logger) reset(w io.Writer) {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)
	lg.l = level.NewFilter(base, lg.minLevel)
}

// Reopen swaps the underlying writer, used by the SIGTTIN log-rotation
// handler.
func (lg *Logger) Reopen(w io.Writer) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.reset(w)
}

func (lg *Logger) logger() kitlog.Logger {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.l
}

// With returns a derived Logger sharing the same minimum level with
// additional key/value context attached to every line.
func (lg *Logger) With(kv ...interface{}) *Logger {
	return &Logger{minLevel: lg.minLevel, l: kitlog.With(lg.logger(), kv...)}
}

func (lg *Logger) Debug(msg string, kv ...interface{}) {
	_ = level.Debug(lg.logger()).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func (lg *Logger) Info(msg string, kv ...interface{}) {
	_ = level.Info(lg.logger()).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func (lg *Logger) Warn(msg string, kv ...interface{}) {
	_ = level.Warn(lg.logger()).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func (lg *Logger) Error(msg string, kv ...interface{}) {
	_ = level.Error(lg.logger()).Log(append([]interface{}{"msg", msg}, kv...)...)
}
