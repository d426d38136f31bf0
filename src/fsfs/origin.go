package fsfs

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// PathChange describes how a revision or transaction changed one path.
type PathChange = dag.Change

// ChangeKind is the kind of a PathChange.
type ChangeKind = dag.ChangeKind

const (
	ChangeModify  = dag.Modify
	ChangeAdd     = dag.Add
	ChangeDelete  = dag.Delete
	ChangeReplace = dag.Replace
)

// PathsChanged returns the changes the revision or transaction of r made, one per path.
func (r *Root) PathsChanged(ctx context.Context) (_ map[string]*PathChange, retErr error) {
	defer log.Span(ctx, "fsfs.PathsChanged")(log.Errorp(&retErr))
	if r.IsTxnRoot() {
		return r.fs.repo.TxnChanges(ctx, r.txn)
	}
	changes, err := r.fs.repo.RevisionChanges(ctx, r.rev)
	if err != nil {
		return nil, err
	}
	result := make(map[string]*PathChange, len(changes))
	r.copyfromMu.Lock()
	defer r.copyfromMu.Unlock()
	if r.copyfrom == nil {
		r.copyfrom = make(map[string]copySource, len(changes))
	}
	for _, c := range changes {
		result[c.Path] = c
		src := copySource{rev: InvalidRevnum}
		if c.CopyFromRev.IsValid() {
			src = copySource{rev: c.CopyFromRev, path: c.CopyFromPath}
		}
		r.copyfrom[c.Path] = src
	}
	return result, nil
}

// CopiedFrom returns the source of the copy that created the node at path, or InvalidRevnum if the
// node was not created by a copy.
func (r *Root) CopiedFrom(ctx context.Context, path string) (Revnum, string, error) {
	path = fspath.Canonicalize(path)
	if r.IsRevisionRoot() {
		r.copyfromMu.Lock()
		src, ok := r.copyfrom[path]
		r.copyfromMu.Unlock()
		if ok {
			return src.rev, src.path, nil
		}
	}
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return InvalidRevnum, "", err
	}
	rev, from, err := n.CopyFrom(ctx)
	if err != nil {
		return InvalidRevnum, "", err
	}
	if !rev.IsValid() {
		return InvalidRevnum, "", nil
	}
	return rev, from, nil
}

// NodeOrigin returns the revision the node at path was first created in, following it back across
// copies.  Nodes created by an uncommitted transaction have no origin yet: InvalidRevnum.
func (r *Root) NodeOrigin(ctx context.Context, path string) (_ Revnum, retErr error) {
	defer log.Span(ctx, "fsfs.NodeOrigin", log.Path(path))(log.Errorp(&retErr))
	path = fspath.Canonicalize(path)
	id, err := r.NodeID(ctx, path)
	if err != nil {
		return InvalidRevnum, err
	}
	nodeID := id.NodeID
	if nodeid.IsTxnLocal(nodeID) {
		return InvalidRevnum, nil
	}
	if rev, ok := nodeid.OriginRevision(nodeID); ok {
		return rev, nil
	}
	if nodeID == "0" {
		return 0, nil
	}
	if rev, ok := r.fs.origins.Get(nodeID); ok {
		return rev, nil
	}
	origin, ok, err := r.fs.repo.NodeOrigin(ctx, nodeID)
	if err != nil {
		return InvalidRevnum, err
	}
	if ok {
		r.fs.origins.Add(nodeID, origin.Rev)
		return origin.Rev, nil
	}

	// Walk back across copies first.
	cur, curPath := r, path
	for {
		copyRoot, copyPath, err := cur.ClosestCopy(ctx, curPath)
		if err != nil {
			return InvalidRevnum, err
		}
		if copyRoot == nil {
			break
		}
		fromRev, fromPath, err := copyRoot.CopiedFrom(ctx, copyPath)
		if err != nil {
			return InvalidRevnum, err
		}
		if !fromRev.IsValid() {
			break
		}
		rel, _ := fspath.SkipAncestor(copyPath, curPath)
		if cur, err = r.fs.RevisionRoot(ctx, fromRev); err != nil {
			return InvalidRevnum, err
		}
		curPath = fspath.Join(fromPath, rel)
	}
	// Then down the predecessors to the first node-revision.
	node, err := cur.getDAG(ctx, curPath)
	if err != nil {
		return InvalidRevnum, err
	}
	for {
		pred, err := node.PredecessorID(ctx)
		if err != nil {
			return InvalidRevnum, err
		}
		if pred == nil {
			break
		}
		if node, err = r.fs.repo.GetNode(ctx, *pred); err != nil {
			return InvalidRevnum, err
		}
	}
	if node.IsMutable() {
		return InvalidRevnum, nil
	}
	if err := r.fs.repo.SetNodeOrigin(ctx, nodeID, node.ID()); err != nil {
		return InvalidRevnum, err
	}
	r.fs.origins.Add(nodeID, node.Revision())
	return node.Revision(), nil
}
