package fsfs

import (
	"context"

	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// Copy copies the node at fromPath in the revision root from to toPath in the transaction root to.
// The copy remembers its source: history crosses it back to fromPath.
func Copy(ctx context.Context, from *Root, fromPath string, to *Root, toPath string) (retErr error) {
	defer log.Span(ctx, "fsfs.Copy", zap.String("from", fromPath), zap.String("to", toPath))(log.Errorp(&retErr))
	return copyHelper(ctx, from, fromPath, to, toPath, true)
}

// RevisionLink makes path in the transaction root to refer to the very node-revision at path in
// the revision root from.  No copy is recorded.
func RevisionLink(ctx context.Context, from *Root, to *Root, path string) (retErr error) {
	defer log.Span(ctx, "fsfs.RevisionLink", log.Path(path))(log.Errorp(&retErr))
	if err := to.requireTxnRoot(); err != nil {
		return err
	}
	return copyHelper(ctx, from, path, to, path, false)
}

func copyHelper(ctx context.Context, from *Root, fromPath string, to *Root, toPath string, preserveHistory bool) error {
	if from.fs.UUID() != to.fs.UUID() {
		return errors.WithStack(&UnsupportedError{Msg: "cannot copy between two different filesystems"})
	}
	if from.IsTxnRoot() {
		return errors.WithStack(&UnsupportedError{Msg: "copy from a transaction root is not supported"})
	}
	if err := to.requireTxnRoot(); err != nil {
		return err
	}
	toPath, err := editPath(toPath)
	if err != nil {
		return err
	}
	fromPath = fspath.Canonicalize(fromPath)
	fromNode, err := from.getDAG(ctx, fromPath)
	if err != nil {
		return err
	}
	pp, err := to.openPath(ctx, toPath, openLastOptional, true)
	if err != nil {
		return err
	}
	if err := to.checkLock(ctx, toPath, true); err != nil {
		return err
	}
	if pp.node != nil && pp.node.ID().Equal(fromNode.ID()) {
		return nil
	}
	if pp.parent == nil {
		return errors.WithStack(&AlreadyExistsError{Root: to.String(), Path: toPath})
	}
	mergeinfo := to.fs.repo.SupportsMergeinfo()
	kind := dag.Add
	var start, end int64
	if pp.node != nil {
		kind = dag.Replace
		if mergeinfo {
			if start, err = pp.node.MergeinfoCount(ctx); err != nil {
				return err
			}
		}
	}
	if mergeinfo {
		if end, err = fromNode.MergeinfoCount(ctx); err != nil {
			return err
		}
	}
	if err := to.makePathMutable(ctx, pp.parent, toPath); err != nil {
		return err
	}
	if err := pp.parent.node.Copy(ctx, pp.entry, fromNode, preserveHistory, from.rev, fromPath); err != nil {
		return err
	}
	if kind != dag.Add {
		to.invalidate(toPath)
	}
	if mergeinfo && start != end {
		if err := to.incrementMergeinfoUpTree(ctx, pp.parent, end-start); err != nil {
			return err
		}
	}
	newNode, err := to.getDAG(ctx, toPath)
	if err != nil {
		return err
	}
	copyFromRev, copyFromPath := InvalidRevnum, ""
	if preserveHistory {
		copyFromRev, copyFromPath = from.rev, fromPath
	}
	return to.addChange(ctx, toPath, newNode.ID(), kind, false, false, fromNode.Kind(), copyFromRev, copyFromPath)
}
