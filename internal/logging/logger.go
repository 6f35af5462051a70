// Package logging provides structured logging helpers for the mapping engine and its tools.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	statementKey contextKey = "statement_id"
)

// Logger wraps slog.Logger with convenience methods
type Logger struct {
	*slog.Logger
}

// Config holds logging configuration
type Config struct {
	Level          string              // debug, info, warn, error
	Format         string              // json, text
	Output         io.Writer           // Defaults to stderr; stdout carries query results
	ServiceName    string              // Instrumentation scope for exported logs
	LoggerProvider *log.LoggerProvider // Optional OTLP logger provider for exporting logs
}

// ParseLevel converts a level name to a slog level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on configuration
func NewLogger(cfg Config) *Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location for error and above
		AddSource: level <= slog.LevelError,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var local slog.Handler
	if cfg.Format == "json" {
		local = slog.NewJSONHandler(out, opts)
	} else {
		local = slog.NewTextHandler(out, opts)
	}

	handler := local
	if cfg.LoggerProvider != nil {
		scope := cfg.ServiceName
		if scope == "" {
			scope = "resultmap"
		}
		otlpHandler := otelslog.NewHandler(scope, otelslog.WithLoggerProvider(cfg.LoggerProvider))
		handler = newMultiHandler(local, otlpHandler)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// multiHandler wraps multiple slog handlers to write to multiple destinations
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) *multiHandler {
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: newHandlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: newHandlers}
}

// WithStatement returns a new logger with the statement id field attached
func (l *Logger) WithStatement(statementID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("statement_id", statementID)),
	}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
	}
}

var defaultLogger atomic.Pointer[Logger]

// SetDefault installs the process-wide logger used when none is passed explicitly.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Default returns the process-wide logger, or one backed by slog.Default if none was installed.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	return &Logger{Logger: slog.Default()}
}

// FromContext retrieves the logger from context, or returns the default logger
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return Default()
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetStatementID retrieves the statement id from context
func GetStatementID(ctx context.Context) string {
	if id, ok := ctx.Value(statementKey).(string); ok {
		return id
	}
	return ""
}

// WithStatementContext adds a statement id to the context
func WithStatementContext(ctx context.Context, statementID string) context.Context {
	return context.WithValue(ctx, statementKey, statementID)
}
