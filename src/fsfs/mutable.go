package fsfs

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
)

// makePathMutable makes the node of pp, and every ancestor, mutable in the transaction of r,
// rewriting the links to the clones.  errorPath names the path in errors.
func (r *Root) makePathMutable(ctx context.Context, pp *parentPath, errorPath string) error {
	if !r.IsTxnRoot() {
		return errors.WithStack(&NotMutableError{Path: errorPath})
	}
	// Collect the immutable links from the leaf up, then clone them from the root down so every
	// parent is mutable before its child is cloned into it.
	var pending []*parentPath
	for link := pp; link != nil && !link.node.IsMutable(); link = link.parent {
		pending = append(pending, link)
	}
	for i := len(pending) - 1; i >= 0; i-- {
		link := pending[i]
		if link.parent == nil {
			root, err := r.fs.repo.TxnRoot(ctx, r.txn)
			if err != nil {
				return err
			}
			if !root.IsMutable() {
				return errors.WithStack(&NotMutableError{Path: errorPath})
			}
			link.node = root
			continue
		}
		clone, err := r.cloneLink(ctx, link)
		if err != nil {
			return err
		}
		link.node = clone
	}
	return nil
}

// cloneLink clones the node of link into its already mutable parent.
func (r *Root) cloneLink(ctx context.Context, link *parentPath) (*dag.Node, error) {
	var copyID string
	switch link.inherit {
	case inheritParent:
		copyID = link.parent.node.ID().CopyID
	case inheritNew:
		var err error
		if copyID, err = r.fs.repo.ReserveCopyID(ctx, r.txn); err != nil {
			return nil, err
		}
	case inheritSelf:
	default:
		return nil, fserr.Malfunction("copy inheritance of '%s' was not computed", link.path())
	}
	copyroot, err := r.copyrootNode(ctx, link.node)
	if err != nil {
		return nil, err
	}
	isParentCopyRoot := link.node.ID().NodeID != copyroot.ID().NodeID
	parentPath := link.parent.path()
	clone, err := link.parent.node.CloneChild(ctx, parentPath, link.entry, copyID, isParentCopyRoot)
	if err != nil {
		return nil, err
	}
	path := link.path()
	r.invalidate(path)
	r.cacheSet(path, clone)
	return clone, nil
}

// addChange appends a change to the transaction's change log.
func (r *Root) addChange(ctx context.Context, path string, id nodeid.ID, kind dag.ChangeKind, textMod, propMod bool, nodeKind dag.Kind, copyFromRev Revnum, copyFromPath string) error {
	return r.fs.repo.AddChange(ctx, r.txn, &dag.Change{
		Path:         path,
		NodeID:       id,
		Kind:         kind,
		NodeKind:     nodeKind,
		TextMod:      textMod,
		PropMod:      propMod,
		CopyFromRev:  copyFromRev,
		CopyFromPath: copyFromPath,
	})
}

// incrementMergeinfoUpTree adds delta to the mergeinfo count of every node from pp up to the root.
// The nodes must be mutable.
func (r *Root) incrementMergeinfoUpTree(ctx context.Context, pp *parentPath, delta int64) error {
	if delta == 0 {
		return nil
	}
	for link := pp; link != nil; link = link.parent {
		if err := link.node.IncrementMergeinfoCount(ctx, delta); err != nil {
			return err
		}
	}
	return nil
}
