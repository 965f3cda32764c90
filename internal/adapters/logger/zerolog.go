// Package logger adapts zerolog to the ports.Logger interface the engines
// depend on.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the zerolog adapter's output.
type Config struct {
	Level  string // debug, info, warn or error (default info)
	Pretty bool   // Human-readable console output instead of JSON
	Out    io.Writer
}

// ZeroLogger implements ports.Logger on top of zerolog.
type ZeroLogger struct {
	log zerolog.Logger
}

// New creates a zerolog-backed logger.
func New(cfg Config) *ZeroLogger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return &ZeroLogger{log: zl}
}

// NewNop creates a logger that discards everything. Intended for tests.
func NewNop() *ZeroLogger {
	return &ZeroLogger{log: zerolog.Nop()}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a message at Debug level.
func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.log.Debug(), msg, fields)
}

// Info logs a message at Info level.
func (l *ZeroLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.log.Info(), msg, fields)
}

// Warn logs a message at Warning level.
func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.emit(l.log.Warn(), msg, fields)
}

// Error logs an error message at Error level.
func (l *ZeroLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.emit(l.log.Error().Err(err), msg, fields)
}

func (l *ZeroLogger) emit(ev *zerolog.Event, msg string, fields []map[string]interface{}) {
	if len(fields) > 0 && fields[0] != nil {
		ev = ev.Fields(fields[0])
	}
	ev.Msg(msg)
}
