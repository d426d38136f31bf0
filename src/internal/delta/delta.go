// Package delta applies text deltas.  A delta is a sequence of windows; each window builds the next
// stretch of the target text from a view of the source text, from target text it has already
// built, and from new data carried in the window.
package delta

import (
	"github.com/pachyderm/fsfs/src/internal/errors"
)

// OpKind says where an instruction copies its bytes from.
type OpKind int

const (
	// Source copies from the window's source view.  Offset is relative to the start of the view.
	Source OpKind = iota
	// Target copies from the target text the window has built so far.  The range may overlap the
	// bytes being written, which repeats a pattern.
	Target
	// New copies the next Length bytes of the window's new data.
	New
)

// Op is one instruction of a window.
type Op struct {
	Kind   OpKind
	Offset int64
	Length int64
}

// Window is one window of a delta.
type Window struct {
	// SourceOffset and SourceLength select the window's view of the source text.
	SourceOffset int64
	SourceLength int64
	// TargetLength is the number of bytes the window produces.
	TargetLength int64
	Ops          []Op
	NewData      []byte
}

// Apply appends the output of w to target and returns the result.  source is the whole source text.
func Apply(source []byte, w *Window, target []byte) ([]byte, error) {
	if w.SourceOffset < 0 || w.SourceLength < 0 || w.SourceOffset+w.SourceLength > int64(len(source)) {
		return nil, errors.Errorf("delta window source view [%d, %d) is outside the %d byte source", w.SourceOffset, w.SourceOffset+w.SourceLength, len(source))
	}
	view := source[w.SourceOffset : w.SourceOffset+w.SourceLength]
	start := len(target)
	var newPos int64
	for i, op := range w.Ops {
		if op.Length < 0 || op.Offset < 0 {
			return nil, errors.Errorf("delta instruction %d has a negative offset or length", i)
		}
		built := int64(len(target) - start)
		if built+op.Length > w.TargetLength {
			return nil, errors.Errorf("delta instruction %d writes past the %d byte window", i, w.TargetLength)
		}
		switch op.Kind {
		case Source:
			if op.Offset+op.Length > int64(len(view)) {
				return nil, errors.Errorf("delta instruction %d reads past the %d byte source view", i, len(view))
			}
			target = append(target, view[op.Offset:op.Offset+op.Length]...)
		case Target:
			if op.Offset >= built && op.Length > 0 {
				return nil, errors.Errorf("delta instruction %d copies from target offset %d, but only %d bytes are built", i, op.Offset, built)
			}
			// Byte at a time: the source range may overlap what is being written.
			for j := int64(0); j < op.Length; j++ {
				target = append(target, target[int64(start)+op.Offset+j])
			}
		case New:
			if newPos+op.Length > int64(len(w.NewData)) {
				return nil, errors.Errorf("delta instruction %d reads past the %d bytes of new data", i, len(w.NewData))
			}
			target = append(target, w.NewData[newPos:newPos+op.Length]...)
			newPos += op.Length
		default:
			return nil, errors.Errorf("delta instruction %d has unknown kind %d", i, op.Kind)
		}
	}
	if built := int64(len(target) - start); built != w.TargetLength {
		return nil, errors.Errorf("delta window built %d bytes, expected %d", built, w.TargetLength)
	}
	return target, nil
}
