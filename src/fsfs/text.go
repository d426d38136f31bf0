package fsfs

import (
	"bytes"
	"context"
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/delta"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
)

// Text deltas, re-exported for callers of ApplyTextDelta.
type (
	DeltaWindow = delta.Window
	DeltaOp     = delta.Op
)

const (
	DeltaSource = delta.Source
	DeltaTarget = delta.Target
	DeltaNew    = delta.New
)

// TextWriter replaces the text of a file.  The new text is stored when Close is called; until then
// no other representation may be written in the transaction.
type TextWriter struct {
	ctx            context.Context
	path           string
	node           *dag.Node
	resultChecksum string
	buf            bytes.Buffer
	hash           hash.Hash
	release        func()
	closed         bool
}

// openText makes the file at path mutable, records the change and marks the transaction as
// writing.
func (r *Root) openText(ctx context.Context, path string) (*dag.Node, func(), error) {
	if err := r.requireTxnRoot(); err != nil {
		return nil, nil, err
	}
	if err := r.checkLock(ctx, path, false); err != nil {
		return nil, nil, err
	}
	pp, err := r.openPath(ctx, path, 0, true)
	if err != nil {
		return nil, nil, err
	}
	if pp.node.Kind() != dag.File {
		return nil, nil, errors.WithStack(&NotFileError{Path: path})
	}
	if err := r.makePathMutable(ctx, pp, path); err != nil {
		return nil, nil, err
	}
	release, err := r.fs.beginWrite(r.txn)
	if err != nil {
		return nil, nil, err
	}
	if err := r.addChange(ctx, path, pp.node.ID(), dag.Modify, true, false, dag.File, InvalidRevnum, ""); err != nil {
		release()
		return nil, nil, err
	}
	return pp.node, release, nil
}

// ApplyText returns a writer that replaces the text of the file at path.  If resultChecksum is not
// empty, Close fails with a ChecksumMismatchError unless the written text has that checksum.
func (r *Root) ApplyText(ctx context.Context, path, resultChecksum string) (_ *TextWriter, retErr error) {
	defer log.Span(ctx, "fsfs.ApplyText", log.Path(path))(log.Errorp(&retErr))
	path, err := editPath(path)
	if err != nil {
		return nil, err
	}
	node, release, err := r.openText(ctx, path)
	if err != nil {
		return nil, err
	}
	return &TextWriter{
		ctx:            ctx,
		path:           path,
		node:           node,
		resultChecksum: resultChecksum,
		hash:           blake3.New(),
		release:        release,
	}, nil
}

// Write implements io.Writer.
func (w *TextWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.Errorf("write to closed text writer for '%s'", w.path)
	}
	w.hash.Write(p)
	return w.buf.Write(p)
}

// Close stores the written text.
func (w *TextWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.release()
	if w.resultChecksum != "" {
		actual := hex.EncodeToString(w.hash.Sum(nil))
		if actual != w.resultChecksum {
			return errors.WithStack(&ChecksumMismatchError{Path: w.path, Expected: w.resultChecksum, Actual: actual})
		}
	}
	return w.node.SetContents(w.ctx, w.buf.Bytes())
}

// TextDeltaWriter applies a text delta to a file.
type TextDeltaWriter struct {
	text *TextWriter
	base []byte
}

// ApplyTextDelta returns a writer that applies a delta against the current text of the file at path.
// If baseChecksum is not empty the current text must have that checksum.  If resultChecksum is not
// empty, Close fails with a ChecksumMismatchError unless the new text has that checksum.
func (r *Root) ApplyTextDelta(ctx context.Context, path, baseChecksum, resultChecksum string) (_ *TextDeltaWriter, retErr error) {
	defer log.Span(ctx, "fsfs.ApplyTextDelta", log.Path(path))(log.Errorp(&retErr))
	path, err := editPath(path)
	if err != nil {
		return nil, err
	}
	node, release, err := r.openText(ctx, path)
	if err != nil {
		return nil, err
	}
	base, err := node.Contents(ctx)
	if err != nil {
		release()
		return nil, err
	}
	if baseChecksum != "" {
		if actual := dag.Checksum(base); actual != baseChecksum {
			release()
			return nil, errors.WithStack(&ChecksumMismatchError{Path: path, Expected: baseChecksum, Actual: actual})
		}
	}
	return &TextDeltaWriter{
		base: base,
		text: &TextWriter{
			ctx:            ctx,
			path:           path,
			node:           node,
			resultChecksum: resultChecksum,
			hash:           blake3.New(),
			release:        release,
		},
	}, nil
}

// WriteWindow applies the next window of the delta.
func (w *TextDeltaWriter) WriteWindow(window *DeltaWindow) error {
	out, err := delta.Apply(w.base, window, nil)
	if err != nil {
		return errors.Wrapf(err, "apply delta to '%s'", w.text.path)
	}
	_, err = w.text.Write(out)
	return err
}

// Close stores the new text.
func (w *TextDeltaWriter) Close() error {
	return w.text.Close()
}
