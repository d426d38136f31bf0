package fsfs

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// History is a position in the history of a node, walked backward in time with Prev.
type History struct {
	fs   *FS
	path string
	rev  Revnum
	// interesting is set once the location has been reported by Prev.
	interesting bool
	// When the reported location was the destination of a copy, the walk continues at the copy
	// source.
	pathHint string
	revHint  Revnum
}

// NodeHistory returns the starting point of the history of path.  The first call to Prev reports
// the most recent change at or before the root's revision.
func (r *Root) NodeHistory(ctx context.Context, path string) (*History, error) {
	if err := r.requireRevisionRoot(); err != nil {
		return nil, err
	}
	path = fspath.Canonicalize(path)
	kind, err := r.CheckPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if kind == KindNone {
		return nil, errors.WithStack(&PathNotFoundError{Root: r.String(), Path: path})
	}
	return &History{fs: r.fs, path: path, rev: r.rev, revHint: InvalidRevnum}, nil
}

// Location returns the path and revision of the history point.
func (h *History) Location() (string, Revnum) {
	return h.path, h.rev
}

// Prev returns the next older point of interest in the history, or nil when there is none.  With
// crossCopies the walk continues at the source of a copy; without it the walk stops there.
func (h *History) Prev(ctx context.Context, crossCopies bool) (_ *History, retErr error) {
	defer log.Span(ctx, "fsfs.History.Prev", log.Path(h.path), log.Revision("rev", int64(h.rev)))(log.Errorp(&retErr))
	if h.path == fspath.Root {
		// The root changes in every revision and is never copied.
		switch {
		case !h.interesting:
			return &History{fs: h.fs, path: h.path, rev: h.rev, interesting: true, revHint: InvalidRevnum}, nil
		case h.rev > 0:
			return &History{fs: h.fs, path: h.path, rev: h.rev - 1, interesting: true, revHint: InvalidRevnum}, nil
		default:
			return nil, nil
		}
	}
	prev := h
	for {
		var err error
		if prev, err = prev.step(ctx, crossCopies); err != nil {
			return nil, err
		}
		if prev == nil || prev.interesting {
			return prev, nil
		}
	}
}

// step moves one location back.  The result may be uninteresting, in which case the caller steps
// again.
func (h *History) step(ctx context.Context, crossCopies bool) (*History, error) {
	path, rev, reported := h.path, h.rev, h.interesting
	if h.pathHint != "" && h.revHint.IsValid() {
		if !crossCopies {
			return nil, nil
		}
		path, rev, reported = h.pathHint, h.revHint, false
	}
	root, err := h.fs.RevisionRoot(ctx, rev)
	if err != nil {
		return nil, err
	}
	pp, err := root.openPath(ctx, path, 0, false)
	if err != nil {
		return nil, err
	}
	node := pp.node
	commitPath, commitRev := node.CreatedPath(), node.Revision()

	// A line of history has at most one interesting point per revision.
	if rev == commitRev {
		if !reported {
			return &History{fs: h.fs, path: commitPath, rev: commitRev, interesting: true, revHint: InvalidRevnum}, nil
		}
		predID, err := node.PredecessorID(ctx)
		if err != nil {
			return nil, err
		}
		if predID == nil {
			return nil, nil
		}
		if node, err = h.fs.repo.GetNode(ctx, *predID); err != nil {
			return nil, err
		}
		commitPath, commitRev = node.CreatedPath(), node.Revision()
	}

	copyrootRev, copyrootPath, err := youngestCopyroot(ctx, pp)
	if err != nil {
		return nil, err
	}
	srcPath, srcRev, dstRev := "", InvalidRevnum, InvalidRevnum
	if copyrootRev > commitRev {
		copyRoot, err := h.fs.RevisionRoot(ctx, copyrootRev)
		if err != nil {
			return nil, err
		}
		copyNode, err := copyRoot.getDAG(ctx, copyrootPath)
		if err != nil {
			return nil, err
		}
		if remainder, ok := fspath.SkipAncestor(copyNode.CreatedPath(), path); ok {
			fromRev, fromPath, err := copyNode.CopyFrom(ctx)
			if err != nil {
				return nil, err
			}
			srcRev, srcPath, dstRev = fromRev, fspath.Join(fromPath, remainder), copyrootRev
		}
	}
	if srcPath != "" && srcRev.IsValid() {
		// The copy may land on the point just reported; then it is stepped over.
		retry := dstRev == rev && reported
		return &History{
			fs:          h.fs,
			path:        path,
			rev:         dstRev,
			interesting: !retry,
			pathHint:    srcPath,
			revHint:     srcRev,
		}, nil
	}
	return &History{fs: h.fs, path: commitPath, rev: commitRev, interesting: true, revHint: InvalidRevnum}, nil
}

// youngestCopyroot returns the youngest copy root of the nodes along pp.  On a tie the node nearest
// the end of the path wins.  Copies made by a transaction count as younger than any revision.
func youngestCopyroot(ctx context.Context, pp *parentPath) (Revnum, string, error) {
	rev, path, err := pp.node.CopyRoot(ctx)
	if err != nil {
		return InvalidRevnum, "", err
	}
	if pp.parent == nil {
		return rev, path, nil
	}
	parentRev, parentPath, err := youngestCopyroot(ctx, pp.parent)
	if err != nil {
		return InvalidRevnum, "", err
	}
	if youngerCopyroot(parentRev, rev) {
		return parentRev, parentPath, nil
	}
	return rev, path, nil
}

func youngerCopyroot(a, b Revnum) bool {
	switch {
	case !b.IsValid():
		return false
	case !a.IsValid():
		return true
	default:
		return a > b
	}
}

// ClosestCopy returns the root and path of the destination of the youngest copy that affected the
// node at path, or a nil root if there is none.
func (r *Root) ClosestCopy(ctx context.Context, path string) (_ *Root, _ string, retErr error) {
	defer log.Span(ctx, "fsfs.ClosestCopy", log.Path(path))(log.Errorp(&retErr))
	path = fspath.Canonicalize(path)
	pp, err := r.openPath(ctx, path, 0, false)
	if err != nil {
		return nil, "", err
	}
	copyRev, copyPath, err := youngestCopyroot(ctx, pp)
	if err != nil {
		return nil, "", err
	}
	if copyRev == 0 {
		return nil, "", nil
	}
	if !copyRev.IsValid() {
		// Copied by this transaction; a node created here under the copy was not affected by it.
		if pp.node.IsMutable() && pp.node.CreatedPath() != copyPath {
			pred, err := pp.node.PredecessorID(ctx)
			if err != nil {
				return nil, "", err
			}
			if pred == nil {
				return nil, "", nil
			}
		}
		return r, copyPath, nil
	}
	copyRoot, err := r.fs.RevisionRoot(ctx, copyRev)
	if err != nil {
		return nil, "", err
	}
	// The node may have been created from scratch after the copy.
	atCopy, err := copyRoot.openPath(ctx, path, openNodeOnly|openAllowNull, false)
	if err != nil {
		return nil, "", err
	}
	if atCopy == nil || !atCopy.node.ID().Related(pp.node.ID()) {
		return nil, "", nil
	}
	// Neither was a node added beneath the copy in the same revision.
	if atCopy.node.Revision() == copyRev {
		pred, err := atCopy.node.PredecessorID(ctx)
		if err != nil {
			return nil, "", err
		}
		if pred == nil {
			return nil, "", nil
		}
	}
	return copyRoot, copyPath, nil
}
