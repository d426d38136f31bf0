// Package errors is the error toolkit used throughout the module.  It wraps
// github.com/pkg/errors so that every error leaving a package carries a stack
// trace, while still supporting the standard library's Is/As/Join.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// StackTrace is the stack of Frames from innermost (newest) to outermost (oldest).
type StackTrace = errors.StackTrace

// Frame is a single program counter of a stack frame.
type Frame = errors.Frame

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New returns an error with the supplied message, recording the stack trace at the point it was
// called.
func New(message string) error {
	return errors.New(message)
}

// Errorf formats according to a format specifier and returns the string as a value that satisfies
// error.  Errorf also records the stack trace at the point it was called.  %w is supported.
func Errorf(format string, args ...any) error {
	return EnsureStack(fmt.Errorf(format, args...))
}

// Wrap returns an error annotating err with a stack trace at the point Wrap is called, and the
// supplied message.  If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf returns an error annotating err with a stack trace at the point Wrapf is called, and the
// format specifier.  If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates err with a stack trace at the point WithStack was called.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// EnsureStack adds a stack trace to err if it does not already have one.  Errors returned from
// third-party libraries should pass through EnsureStack (or Wrap) before being returned.
func EnsureStack(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if As(err, &st) {
		return err
	}
	return errors.WithStack(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error
// value and returns true.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's type contains an Unwrap
// method returning error.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors.  Nil errors are discarded.
func Join(errs ...error) error {
	return EnsureStack(stderrors.Join(errs...))
}

// ForEachStackFrame calls f on each Frame in the StackTrace contained in err.  If err is a wrapper
// around another error, it is repeatedly unwrapped and f is called with frames from the stack of the
// innermost error.
func ForEachStackFrame(err error, f func(Frame)) {
	var st stackTracer
	for err != nil {
		if s, ok := err.(stackTracer); ok {
			st = s
		}
		err = Unwrap(err)
	}
	if st != nil {
		for _, fr := range st.StackTrace() {
			f(fr)
		}
	}
}
