// Package taskforge logger.
// Component-scoped structured logging over log/slog. Every component
// (pool, cache, scheduler facade, execution handler) constructs its own
// logger with its component name baked in, so a single process log can
// be filtered per subsystem.
package taskforge

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogHandler is an optional per-record hook for host processes that
// ship records somewhere besides the slog output (a test recorder, an
// external sink). It receives the record's structured attrs, component
// included.
type LogHandler func(level slog.Level, msg string, attrs ...slog.Attr)

// LoggerConfig configures a Logger. Silent suppresses the slog output
// while still invoking Handler, which is how tests capture records
// without polluting stdout.
type LoggerConfig struct {
	Level   slog.Level
	Handler LogHandler
	Silent  bool
	Output  io.Writer
}

// Logger is the structured logger every taskforge component logs
// through.
type Logger struct {
	component string
	slog      *slog.Logger
	handler   LogHandler
	silent    bool
}

// NewLogger builds a logger scoped to component. With no config it
// logs text at info level to stdout.
func NewLogger(component string, config ...LoggerConfig) *Logger {
	cfg := LoggerConfig{Level: slog.LevelInfo}
	if len(config) > 0 {
		cfg = config[0]
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Silent {
		output = io.Discard
	}

	h := slog.NewTextHandler(output, &slog.HandlerOptions{Level: cfg.Level})
	return &Logger{
		component: component,
		slog:      slog.New(h).With("component", component),
		handler:   cfg.Handler,
		silent:    cfg.Silent,
	}
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l.handler != nil {
		attrs := make([]slog.Attr, 0, len(args)/2+1)
		attrs = append(attrs, slog.String("component", l.component))
		for i := 0; i+1 < len(args); i += 2 {
			if key, ok := args[i].(string); ok {
				attrs = append(attrs, slog.Any(key, args[i+1]))
			}
		}
		l.handler(level, msg, attrs...)
	}
	if !l.silent {
		l.slog.Log(context.Background(), level, msg, args...)
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// With returns a derived logger carrying extra key-value context on
// every record, preserving the component scope and handler hook.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		component: l.component,
		slog:      l.slog.With(args...),
		handler:   l.handler,
		silent:    l.silent,
	}
}
