package pctx

import (
	"context"
	"testing"

	"github.com/pachyderm/fsfs/src/internal/log"
)

// Option customizes a child context.
type Option func(*[]log.LogOption)

// WithFields returns an Option that adds fields to each log line of the child.
func WithFields(fields ...log.Field) Option {
	return func(opts *[]log.LogOption) {
		*opts = append(*opts, log.WithFields(fields...))
	}
}

// Child returns a named child context.  The name can be empty.
func Child(ctx context.Context, name string, opts ...Option) context.Context {
	var logOptions []log.LogOption
	for _, opt := range opts {
		opt(&logOptions)
	}
	return log.ChildLogger(ctx, name, logOptions...)
}

// TestContext returns a context whose logs go to t, canceled when the test ends.
func TestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(log.Test(context.Background(), t))
	t.Cleanup(cancel)
	return ctx
}
