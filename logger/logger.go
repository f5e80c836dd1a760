package logger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field.
type Field = zap.Field

// Logger is a thin wrapper around zap that provides the four log levels we
// need throughout the codebase.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// zapLogger implements Logger on top of a *zap.Logger.
type zapLogger struct {
	z *zap.Logger
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// NewZapLogger creates a production‑ready logger (JSON encoding, ISO8601
// timestamps under "ts"). An empty level means info.
func NewZapLogger(level string) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger { return &zapLogger{z: zap.NewNop()} }

// With returns a logger that always appends the given fields.
func With(l Logger, fields ...Field) Logger {
	if zl, ok := l.(*zapLogger); ok {
		return &zapLogger{z: zl.z.With(fields...)}
	}
	return &prefixed{base: l, fields: fields}
}

// prefixed is the fallback for foreign Logger implementations (test mocks).
type prefixed struct {
	base   Logger
	fields []Field
}

func (p *prefixed) join(fields []Field) []Field {
	out := make([]Field, 0, len(p.fields)+len(fields))
	out = append(out, p.fields...)
	return append(out, fields...)
}

func (p *prefixed) Debug(msg string, fields ...Field) { p.base.Debug(msg, p.join(fields)...) }
func (p *prefixed) Info(msg string, fields ...Field)  { p.base.Info(msg, p.join(fields)...) }
func (p *prefixed) Warn(msg string, fields ...Field)  { p.base.Warn(msg, p.join(fields)...) }
func (p *prefixed) Error(msg string, fields ...Field) { p.base.Error(msg, p.join(fields)...) }

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// ---------------------------------------------------------------------
// Field helpers
// ---------------------------------------------------------------------

func String(key, val string) Field                 { return zap.String(key, val) }
func Int(key string, val int) Field                { return zap.Int(key, val) }
func Int64(key string, val int64) Field            { return zap.Int64(key, val) }
func Float64(key string, val float64) Field        { return zap.Float64(key, val) }
func Bool(key string, val bool) Field              { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
func Any(key string, val interface{}) Field        { return zap.Any(key, val) }
func Err(err error) Field                          { return zap.Error(err) }
