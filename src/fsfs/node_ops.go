package fsfs

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/mergeinfo"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// editPath returns the canonical form of a path about to be edited, rejecting paths no node may
// have.
func editPath(path string) (string, error) {
	path = fspath.Canonicalize(path)
	if err := fspath.Validate(path); err != nil {
		return "", errors.WithStack(&InvalidPathError{Path: path, Reason: err.Error()})
	}
	return path, nil
}

// checkLock verifies, in transactions that check locks, that the caller may edit path.  With
// recurse the locks of path's descendants are checked too.
func (r *Root) checkLock(ctx context.Context, path string, recurse bool) error {
	if !r.flags.CheckLocks {
		return nil
	}
	return r.fs.locks.Allow(ctx, path, recurse, r.fs.currentAccess())
}

// MakeDir creates an empty directory at path.
func (r *Root) MakeDir(ctx context.Context, path string) (retErr error) {
	defer log.Span(ctx, "fsfs.MakeDir", log.Path(path))(log.Errorp(&retErr))
	if err := r.requireTxnRoot(); err != nil {
		return err
	}
	path, err := editPath(path)
	if err != nil {
		return err
	}
	pp, err := r.openPath(ctx, path, openLastOptional, true)
	if err != nil {
		return err
	}
	if err := r.checkLock(ctx, path, true); err != nil {
		return err
	}
	if pp.node != nil {
		return errors.WithStack(&AlreadyExistsError{Root: r.String(), Path: path})
	}
	if err := r.makePathMutable(ctx, pp.parent, path); err != nil {
		return err
	}
	dir, err := pp.parent.node.MakeDir(ctx, pp.parent.path(), pp.entry)
	if err != nil {
		return err
	}
	r.cacheSet(path, dir)
	return r.addChange(ctx, path, dir.ID(), dag.Add, false, false, dag.Dir, InvalidRevnum, "")
}

// MakeFile creates an empty file at path.
func (r *Root) MakeFile(ctx context.Context, path string) (retErr error) {
	defer log.Span(ctx, "fsfs.MakeFile", log.Path(path))(log.Errorp(&retErr))
	if err := r.requireTxnRoot(); err != nil {
		return err
	}
	path, err := editPath(path)
	if err != nil {
		return err
	}
	pp, err := r.openPath(ctx, path, openLastOptional, true)
	if err != nil {
		return err
	}
	if err := r.checkLock(ctx, path, false); err != nil {
		return err
	}
	if pp.node != nil {
		return errors.WithStack(&AlreadyExistsError{Root: r.String(), Path: path})
	}
	if err := r.makePathMutable(ctx, pp.parent, path); err != nil {
		return err
	}
	file, err := pp.parent.node.MakeFile(ctx, pp.parent.path(), pp.entry)
	if err != nil {
		return err
	}
	r.cacheSet(path, file)
	return r.addChange(ctx, path, file.ID(), dag.Add, true, false, dag.File, InvalidRevnum, "")
}

// Delete removes the node at path and everything below it.
func (r *Root) Delete(ctx context.Context, path string) (retErr error) {
	defer log.Span(ctx, "fsfs.Delete", log.Path(path))(log.Errorp(&retErr))
	if err := r.requireTxnRoot(); err != nil {
		return err
	}
	path, err := editPath(path)
	if err != nil {
		return err
	}
	pp, err := r.openPath(ctx, path, 0, true)
	if err != nil {
		return err
	}
	if pp.parent == nil {
		return errors.EnsureStack(ErrCannotDeleteRoot)
	}
	if err := r.checkLock(ctx, path, true); err != nil {
		return err
	}
	if err := r.makePathMutable(ctx, pp.parent, path); err != nil {
		return err
	}
	var count int64
	if r.fs.repo.SupportsMergeinfo() {
		if count, err = pp.node.MergeinfoCount(ctx); err != nil {
			return err
		}
	}
	deleted := pp.node
	if err := pp.parent.node.DeleteEntry(ctx, pp.entry); err != nil {
		return err
	}
	r.invalidate(path)
	if count > 0 {
		if err := r.incrementMergeinfoUpTree(ctx, pp.parent, -count); err != nil {
			return err
		}
	}
	return r.addChange(ctx, path, deleted.ID(), dag.Delete, false, false, deleted.Kind(), InvalidRevnum, "")
}

// ChangeNodeProp sets a property of the node at path.  A nil value deletes it.
func (r *Root) ChangeNodeProp(ctx context.Context, path, name string, value *string) (retErr error) {
	defer log.Span(ctx, "fsfs.ChangeNodeProp", log.Path(path))(log.Errorp(&retErr))
	if err := r.requireTxnRoot(); err != nil {
		return err
	}
	path, err := editPath(path)
	if err != nil {
		return err
	}
	pp, err := r.openPath(ctx, path, 0, true)
	if err != nil {
		return err
	}
	if err := r.checkLock(ctx, path, false); err != nil {
		return err
	}
	if err := r.makePathMutable(ctx, pp, path); err != nil {
		return err
	}
	node := pp.node
	props, err := node.Proplist(ctx)
	if err != nil {
		return err
	}
	if len(props) == 0 && value == nil {
		return nil
	}
	if r.fs.repo.SupportsMergeinfo() && name == mergeinfo.PropName {
		had, err := node.HasMergeinfo(ctx)
		if err != nil {
			return err
		}
		var delta int64
		switch {
		case value != nil && !had:
			delta = 1
		case value == nil && had:
			delta = -1
		}
		if delta != 0 {
			if err := r.incrementMergeinfoUpTree(ctx, pp, delta); err != nil {
				return err
			}
			if err := node.SetHasMergeinfo(ctx, value != nil); err != nil {
				return err
			}
		}
	}
	if value == nil {
		delete(props, name)
	} else {
		props[name] = *value
	}
	if err := node.SetProplist(ctx, props); err != nil {
		return err
	}
	return r.addChange(ctx, path, node.ID(), dag.Modify, false, true, node.Kind(), InvalidRevnum, "")
}
