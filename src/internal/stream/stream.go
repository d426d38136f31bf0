// Package stream defines the pull iterator used by key scans.
package stream

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/errors"
)

// Iterator is a pull iterator.  Next copies the next element into dst, returning an error for which
// IsEOS is true once the iterator is exhausted.
type Iterator[T any] interface {
	Next(ctx context.Context, dst *T) error
}

type eos struct{}

func (eos) Error() string { return "end of stream" }

// EOS returns a new end-of-stream error.  Each call returns a distinct error carrying its own stack,
// so compare with IsEOS rather than errors.Is.
func EOS() error {
	return errors.WithStack(eos{})
}

// IsEOS reports whether err marks the end of a stream.
func IsEOS(err error) bool {
	var e eos
	return errors.As(err, &e)
}

// ForEach calls cb on every element of it.  The element passed to cb is reused by the next call to
// Next, so cb must copy anything it retains.
func ForEach[T any](ctx context.Context, it Iterator[T], cb func(T) error) error {
	var x T
	for {
		if err := it.Next(ctx, &x); err != nil {
			if IsEOS(err) {
				return nil
			}
			return err
		}
		if err := cb(x); err != nil {
			return err
		}
	}
}

// Slice collects every element of it, applying clone to each.
func Slice[T any](ctx context.Context, it Iterator[T], clone func(T) T) ([]T, error) {
	var result []T
	err := ForEach(ctx, it, func(x T) error {
		result = append(result, clone(x))
		return nil
	})
	return result, err
}
