// Package logging provides the structured logger used across the bulk loader.
package logging

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is the minimum severity a logger writes.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levels = [...]struct {
	name string
	zl   zerolog.Level
}{
	DEBUG: {"DEBUG", zerolog.DebugLevel},
	INFO:  {"INFO", zerolog.InfoLevel},
	WARN:  {"WARN", zerolog.WarnLevel},
	ERROR: {"ERROR", zerolog.ErrorLevel},
}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levels[l].name
}

func (l LogLevel) zerolog() zerolog.Level {
	if l < DEBUG || l > ERROR {
		return zerolog.InfoLevel
	}
	return levels[l].zl
}

// ParseLogLevel reads a level name case-insensitively. WARNING is accepted
// for WARN; anything unknown is INFO.
func ParseLogLevel(s string) LogLevel {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return WARN
	}
	for l, lv := range levels {
		if lv.name == s {
			return LogLevel(l)
		}
	}
	return INFO
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, val string) Field          { return Field{Key: key, Value: val} }
func Int(key string, val int) Field         { return Field{Key: key, Value: val} }
func Int64(key string, val int64) Field     { return Field{Key: key, Value: val} }
func Float64(key string, val float64) Field { return Field{Key: key, Value: val} }
func Bool(key string, val bool) Field       { return Field{Key: key, Value: val} }
func Duration(key string, val time.Duration) Field {
	return Field{Key: key, Value: val.String()}
}
func Error(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"
}

// zeroLogger implements Logger on top of zerolog.
type zeroLogger struct {
	logger zerolog.Logger
}

// NewLogger creates a JSON logger with the specified level and output.
func NewLogger(level string, output io.Writer) Logger {
	if output == nil {
		output = os.Stdout
	}
	zl := zerolog.New(output).
		Level(ParseLogLevel(level).zerolog()).
		With().Timestamp().Logger()
	return &zeroLogger{logger: zl}
}

// NewConsoleLogger writes human readable lines, for interactive use.
func NewConsoleLogger(level string, output io.Writer) Logger {
	if output == nil {
		output = os.Stderr
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
		Level(ParseLogLevel(level).zerolog()).
		With().Timestamp().Logger()
	return &zeroLogger{logger: zl}
}

// NewFromEnv returns a console logger when PRETTY=1 and a JSON logger
// otherwise. DEBUG=1 forces the DEBUG level.
func NewFromEnv(level string, output io.Writer) Logger {
	if os.Getenv("DEBUG") == "1" {
		level = "DEBUG"
	}
	if os.Getenv("PRETTY") == "1" {
		return NewConsoleLogger(level, output)
	}
	return NewLogger(level, output)
}

// NewDefaultLogger creates a logger with INFO level writing to stdout.
func NewDefaultLogger() Logger {
	return NewLogger("INFO", os.Stdout)
}

func (l *zeroLogger) Debug(msg string, fields ...Field) {
	l.write(l.logger.Debug(), msg, fields)
}

func (l *zeroLogger) Info(msg string, fields ...Field) {
	l.write(l.logger.Info(), msg, fields)
}

func (l *zeroLogger) Warn(msg string, fields ...Field) {
	l.write(l.logger.Warn(), msg, fields)
}

func (l *zeroLogger) Error(msg string, fields ...Field) {
	l.write(l.logger.Error(), msg, fields)
}

func (l *zeroLogger) WithFields(fields ...Field) Logger {
	ctx := l.logger.With()
	for _, f := range redactSensitiveFields(fields) {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zeroLogger{logger: ctx.Logger()}
}

func (l *zeroLogger) write(e *zerolog.Event, msg string, fields []Field) {
	// nil when the level is disabled
	if e == nil {
		return
	}
	for _, f := range redactSensitiveFields(fields) {
		e = e.Interface(f.Key, f.Value)
	}
	e.Msg(msg)
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"secret":        true,
	"authorization": true,
	"api_key":       true,
	"apikey":        true,
	"auth":          true,
}

const redacted = "[REDACTED]"

// redactSensitiveFields masks secret-named fields, and the password inside
// any "dsn" field.
func redactSensitiveFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		key := strings.ToLower(f.Key)
		switch {
		case sensitiveKeys[key]:
			out[i] = Field{Key: f.Key, Value: redacted}
		case key == "dsn":
			dsn, _ := f.Value.(string)
			out[i] = Field{Key: f.Key, Value: RedactDSN(dsn)}
		default:
			out[i] = f
		}
	}
	return out
}

// RedactDSN masks the password of a connection string with "xxxxx", in URL
// form ("postgres://user:pw@host/db") or key=value form
// ("server=h;user id=u;password=pw" or "host=h password=pw").
func RedactDSN(dsn string) string {
	const mask = "xxxxx"
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if q := u.Query(); q.Has("password") {
			q.Set("password", mask)
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}

	sep := " "
	if strings.Contains(dsn, ";") {
		sep = ";"
	}
	parts := strings.Split(dsn, sep)
	for i, part := range parts {
		k, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password", "pwd":
			parts[i] = k + "=" + mask
		}
	}
	return strings.Join(parts, sep)
}

// noopLogger implements Logger but does nothing.
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, fields ...Field) {}
func (n *noopLogger) Info(msg string, fields ...Field)  {}
func (n *noopLogger) Warn(msg string, fields ...Field)  {}
func (n *noopLogger) Error(msg string, fields ...Field) {}
func (n *noopLogger) WithFields(fields ...Field) Logger { return n }

// NewNoopLogger creates a logger that discards all output.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

type contextKey string

const loggerKey contextKey = "logger"

// WithContext attaches a logger to ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger attached to ctx, or a no-op logger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return NewNoopLogger()
}
