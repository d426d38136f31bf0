// Package log carries a zap logger on the context.  Every function that logs takes a context; the
// logger (and its accumulated fields and name) travel with it.
package log

import (
	"context"
	"os"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Field is a structured logging field.
type Field = zap.Field

type loggerKey struct{}

// level is the level of the default logger.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// defaultLogger logs JSON to stderr.  Contexts without a logger of their own log through it.
var defaultLogger = sync.OnceValue(func() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller())
})

// SetLevel sets the level of the default logger from its name ("debug", "info", ...).  An empty
// name leaves the level alone.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return err //nolint:wrapcheck
	}
	level.SetLevel(l)
	return nil
}

// Test attaches a logger that writes to t.Log to ctx.
func Test(ctx context.Context, t testing.TB) context.Context {
	return withLogger(ctx, zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel), zaptest.WrapOptions(zap.AddCaller())))
}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func extractLogger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return defaultLogger()
}

// LogOption modifies a logger.
type LogOption func(l *zap.Logger) *zap.Logger

// WithFields adds fields to every message the logger emits.
func WithFields(fields ...Field) LogOption {
	return func(l *zap.Logger) *zap.Logger {
		return l.With(fields...)
	}
}

// ChildLogger returns a context whose logger is a named child of the logger in ctx.  The name may be
// empty.
func ChildLogger(ctx context.Context, name string, opts ...LogOption) context.Context {
	l := extractLogger(ctx)
	if name != "" {
		l = l.Named(name)
	}
	for _, opt := range opts {
		l = opt(l)
	}
	return withLogger(ctx, l)
}

// Debug logs a message at level debug.
func Debug(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

// Info logs a message at level info.
func Info(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Error logs a message at level error.  Use this for errors the program swallows; returned errors
// are logged by whoever handles them.
func Error(ctx context.Context, msg string, fields ...Field) {
	extractLogger(ctx).WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}
