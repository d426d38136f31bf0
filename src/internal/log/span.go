package log

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EndSpanFunc ends a span.  Fields passed to it are added to the closing message.
type EndSpanFunc = func(fields ...Field)

const errorpType = zapcore.InlineMarshalerType + 100

// Errorp is a Field for an EndSpanFunc: the span fails if *err is non-nil when it ends.
func Errorp(err *error) Field {
	return zapcore.Field{Key: "error", Type: errorpType, Interface: err}
}

// Span logs the start of an operation at level debug and returns the function that logs its end,
// with the elapsed time and the outcome.  Call it as
//
//	defer log.Span(ctx, "fsfs.Copy", log.Path(p))(log.Errorp(&retErr))
func Span(ctx context.Context, event string, fields ...Field) EndSpanFunc {
	l := extractLogger(ctx).Named(event).With(fields...)
	if ce := l.WithOptions(zap.AddCallerSkip(1)).Check(zapcore.DebugLevel, event+": span start"); ce != nil {
		ce.Write(deadline(ctx))
	}
	start := time.Now()
	return func(endFields ...Field) {
		msg := "span finished ok"
		out := []Field{zap.Duration("spanDuration", time.Since(start))}
		for _, f := range endFields {
			if f.Type == errorpType {
				if errp, ok := f.Interface.(*error); ok && *errp != nil {
					msg = "span failed"
					out = append(out, zap.Error(*errp))
				}
				continue
			}
			if f.Type == zapcore.ErrorType {
				msg = "span failed"
			}
			out = append(out, f)
		}
		if ce := l.Check(zapcore.DebugLevel, event+": "+msg); ce != nil {
			ce.Write(append(out, deadline(ctx))...)
		}
	}
}

// deadline is a Field with the time left before ctx's deadline, if it has one.
func deadline(ctx context.Context) Field {
	if dl, ok := ctx.Deadline(); ok {
		return zap.Duration("deadline", time.Until(dl))
	}
	return zap.Skip()
}
