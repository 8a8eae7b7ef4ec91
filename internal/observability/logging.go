// Package observability wires structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the copilot service.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" (production) or "text" (development).
	Format string `yaml:"format"`

	// Output defaults to os.Stdout.
	Output io.Writer `yaml:"-"`

	// AddSource includes file:line in records.
	AddSource bool `yaml:"add_source"`
}

// ContextKey is the type for correlation values carried in context.
type ContextKey string

const (
	// RequestIDKey carries the per-request id assigned at the HTTP boundary.
	RequestIDKey ContextKey = "request_id"

	// CallerIDKey carries the authenticated caller's user id.
	CallerIDKey ContextKey = "caller_id"
)

// redactPatterns cover the secrets most likely to leak into log fields:
// provider API keys and bearer/JWT tokens.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)[\s:=]+\S+`),
}

// Logger is a thin slog wrapper that injects request correlation fields from
// context and redacts secrets in string attributes.
type Logger struct {
	logger *slog.Logger
}

// NewLogger builds a Logger from config. Invalid levels fall back to info,
// an empty format to json.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(redact(a.Value.String()))
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return &Logger{logger: slog.New(handler)}
}

// NewTestLogger returns a logger that discards output, for tests.
func NewTestLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// withCorrelation prepends request_id and caller_id from context when set.
func withCorrelation(ctx context.Context, args []any) []any {
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		args = append([]any{"request_id", v}, args...)
	}
	if v, ok := ctx.Value(CallerIDKey).(string); ok && v != "" {
		args = append([]any{"caller_id", v}, args...)
	}
	return args
}

// Debug logs at debug level with context correlation.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.Debug(msg, withCorrelation(ctx, args)...)
}

// Info logs at info level with context correlation.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.Info(msg, withCorrelation(ctx, args)...)
}

// Warn logs at warn level with context correlation.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.Warn(msg, withCorrelation(ctx, args)...)
}

// Error logs at error level with context correlation.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.Error(msg, withCorrelation(ctx, args)...)
}

// With returns a logger carrying the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}
