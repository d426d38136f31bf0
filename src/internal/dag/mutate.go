package dag

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/codec"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

func (n *Node) requireMutable() error {
	if !n.IsMutable() {
		return errors.WithStack(&fserr.NotMutableError{Path: n.createdPath})
	}
	return nil
}

func (n *Node) requireMutableDir(name string) error {
	if err := n.requireMutable(); err != nil {
		return err
	}
	if n.kind != Dir {
		return errors.WithStack(&fserr.NotDirectoryError{Path: n.createdPath})
	}
	if !fspath.IsSingleComponent(name) {
		return errors.WithStack(&fserr.InvalidPathError{Path: name, Reason: "not a single path component"})
	}
	return nil
}

// modify applies f to the latest record of a mutable node-revision and stores the result.
func (n *Node) modify(ctx context.Context, f func(nr *NodeRev) error) error {
	if err := n.requireMutable(); err != nil {
		return err
	}
	nr, err := n.repo.readNodeRev(ctx, n.id)
	if err != nil {
		return err
	}
	if err := f(nr); err != nil {
		return err
	}
	return n.repo.writeNodeRev(ctx, nr)
}

// mutableRepKey returns cur if it already belongs to the node's transaction, or a new key.
func (n *Node) mutableRepKey(ctx context.Context, cur *RepKey) (RepKey, error) {
	if cur != nil && cur.Txn == n.id.Txn {
		return *cur, nil
	}
	item, err := n.repo.reserveItem(ctx, n.id.Txn)
	if err != nil {
		return RepKey{}, err
	}
	return RepKey{Rev: nodeid.InvalidRevnum, Txn: n.id.Txn, Item: item}, nil
}

func (n *Node) updateEntries(ctx context.Context, f func(entries map[string]DirEntry) error) error {
	return n.modify(ctx, func(nr *NodeRev) error {
		entries, err := n.repo.readEntries(ctx, nr.DataRep)
		if err != nil {
			return err
		}
		if err := f(entries); err != nil {
			return err
		}
		data, err := encodeEntries(entries)
		if err != nil {
			return err
		}
		key, err := n.mutableRepKey(ctx, nr.DataRep)
		if err != nil {
			return err
		}
		if err := n.repo.writeRep(ctx, key, data); err != nil {
			return err
		}
		nr.DataRep = &key
		return nil
	})
}

// SetEntry points the entry name of a mutable directory at id.
func (n *Node) SetEntry(ctx context.Context, name string, id nodeid.ID, kind Kind) error {
	if err := n.requireMutableDir(name); err != nil {
		return err
	}
	return n.updateEntries(ctx, func(entries map[string]DirEntry) error {
		entries[name] = DirEntry{ID: id, Kind: kind}
		return nil
	})
}

// CloneChild makes the entry name of a mutable directory mutable, returning the mutable child.  A
// child that is already mutable is returned as is.  A non-empty copyID replaces the child's
// copy-id.  With isParentCopyRoot the child takes the parent's copy root.
func (n *Node) CloneChild(ctx context.Context, parentPath, name, copyID string, isParentCopyRoot bool) (*Node, error) {
	if err := n.requireMutableDir(name); err != nil {
		return nil, err
	}
	cur, err := n.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if cur.IsMutable() {
		return cur, nil
	}
	nr, err := cur.NodeRev(ctx)
	if err != nil {
		return nil, err
	}
	if isParentCopyRoot {
		pnr, err := n.read(ctx)
		if err != nil {
			return nil, err
		}
		nr.CopyRootRev, nr.CopyRootPath = pnr.CopyRootRev, pnr.CopyRootPath
	}
	nr.CopyFromRev, nr.CopyFromPath = nodeid.InvalidRevnum, ""
	pred := nr.ID
	nr.Predecessor = &pred
	nr.PredecessorCount++
	nr.CreatedPath = fspath.Join(parentPath, name)
	nr.IsFreshTxnRoot = false
	if copyID == "" {
		copyID = pred.CopyID
	}
	item, err := n.repo.reserveItem(ctx, n.id.Txn)
	if err != nil {
		return nil, err
	}
	nr.ID = nodeid.NewTxnID(pred.NodeID, copyID, n.id.Txn, item)
	if err := n.repo.writeNodeRev(ctx, nr); err != nil {
		return nil, err
	}
	if err := n.SetEntry(ctx, name, nr.ID, nr.Kind); err != nil {
		return nil, err
	}
	return n.repo.GetNode(ctx, nr.ID)
}

// MakeFile creates an empty file as the entry name of a mutable directory.
func (n *Node) MakeFile(ctx context.Context, parentPath, name string) (*Node, error) {
	return n.makeEntry(ctx, parentPath, name, File)
}

// MakeDir creates an empty directory as the entry name of a mutable directory.
func (n *Node) MakeDir(ctx context.Context, parentPath, name string) (*Node, error) {
	return n.makeEntry(ctx, parentPath, name, Dir)
}

func (n *Node) makeEntry(ctx context.Context, parentPath, name string, kind Kind) (*Node, error) {
	if err := n.requireMutableDir(name); err != nil {
		return nil, err
	}
	existing, err := n.Child(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.WithStack(&fserr.AlreadyExistsError{Path: fspath.Join(parentPath, name)})
	}
	pnr, err := n.read(ctx)
	if err != nil {
		return nil, err
	}
	nodeID, item, err := n.repo.reserveNodeID(ctx, n.id.Txn)
	if err != nil {
		return nil, err
	}
	nr := &NodeRev{
		ID:           nodeid.NewTxnID(nodeID, pnr.ID.CopyID, n.id.Txn, item),
		Kind:         kind,
		CopyFromRev:  nodeid.InvalidRevnum,
		CopyRootRev:  pnr.CopyRootRev,
		CopyRootPath: pnr.CopyRootPath,
		CreatedPath:  fspath.Join(parentPath, name),
	}
	if err := n.repo.writeNodeRev(ctx, nr); err != nil {
		return nil, err
	}
	if err := n.SetEntry(ctx, name, nr.ID, kind); err != nil {
		return nil, err
	}
	return n.repo.GetNode(ctx, nr.ID)
}

// DeleteEntry removes the entry name of a mutable directory.  A mutable child is removed from the
// transaction along with its mutable descendants.
func (n *Node) DeleteEntry(ctx context.Context, name string) error {
	if err := n.requireMutableDir(name); err != nil {
		return err
	}
	entries, err := n.Entries(ctx)
	if err != nil {
		return err
	}
	entry, ok := entries[name]
	if !ok {
		return errors.WithStack(&fserr.PathNotFoundError{Path: fspath.Join(n.createdPath, name)})
	}
	if entry.ID.IsMutable() {
		if err := n.repo.deleteIfMutable(ctx, entry.ID); err != nil {
			return err
		}
	}
	return n.updateEntries(ctx, func(entries map[string]DirEntry) error {
		delete(entries, name)
		return nil
	})
}

func (r *Repo) deleteIfMutable(ctx context.Context, id nodeid.ID) error {
	if !id.IsMutable() {
		return nil
	}
	nr, err := r.readNodeRev(ctx, id)
	if err != nil {
		return err
	}
	if nr.Kind == Dir {
		entries, err := r.readEntries(ctx, nr.DataRep)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := r.deleteIfMutable(ctx, e.ID); err != nil {
				return err
			}
		}
	}
	for _, k := range []*RepKey{nr.PropRep, nr.DataRep} {
		if k != nil && k.Txn == id.Txn {
			if err := r.store.Delete(ctx, repKey(*k)); err != nil {
				return err
			}
		}
	}
	return r.store.Delete(ctx, nodeKey(id))
}

// Copy makes the entry name of a mutable directory refer to from.  With preserveHistory the entry
// becomes a new node-revision, a successor of from on a new copy-id recording fromRev and fromPath
// as its copy source; otherwise the entry refers to from itself.
func (n *Node) Copy(ctx context.Context, name string, from *Node, preserveHistory bool, fromRev nodeid.Revnum, fromPath string) error {
	if err := n.requireMutableDir(name); err != nil {
		return err
	}
	id := from.ID()
	if preserveHistory {
		nr, err := from.NodeRev(ctx)
		if err != nil {
			return err
		}
		src := nr.ID
		nr.Predecessor = &src
		nr.PredecessorCount++
		nr.CreatedPath = fspath.Join(n.createdPath, name)
		nr.CopyFromRev, nr.CopyFromPath = fromRev, fromPath
		nr.CopyRootRev, nr.CopyRootPath = nodeid.InvalidRevnum, nr.CreatedPath
		nr.IsFreshTxnRoot = false
		copyID, err := n.repo.ReserveCopyID(ctx, n.id.Txn)
		if err != nil {
			return err
		}
		item, err := n.repo.reserveItem(ctx, n.id.Txn)
		if err != nil {
			return err
		}
		nr.ID = nodeid.NewTxnID(src.NodeID, copyID, n.id.Txn, item)
		if err := n.repo.writeNodeRev(ctx, nr); err != nil {
			return err
		}
		id = nr.ID
	}
	return n.SetEntry(ctx, name, id, from.Kind())
}

// SetProplist replaces the node's properties.
func (n *Node) SetProplist(ctx context.Context, props map[string]string) error {
	return n.modify(ctx, func(nr *NodeRev) error {
		if len(props) == 0 {
			if nr.PropRep != nil && nr.PropRep.Txn == n.id.Txn {
				if err := n.repo.store.Delete(ctx, repKey(*nr.PropRep)); err != nil {
					return err
				}
			}
			nr.PropRep = nil
			return nil
		}
		data, err := codec.Marshal(props)
		if err != nil {
			return err
		}
		key, err := n.mutableRepKey(ctx, nr.PropRep)
		if err != nil {
			return err
		}
		if err := n.repo.writeRep(ctx, key, data); err != nil {
			return err
		}
		nr.PropRep = &key
		return nil
	})
}

// SetContents replaces the text of a mutable file.
func (n *Node) SetContents(ctx context.Context, data []byte) error {
	if n.kind != File {
		return errors.WithStack(&fserr.NotFileError{Path: n.createdPath})
	}
	return n.modify(ctx, func(nr *NodeRev) error {
		key, err := n.mutableRepKey(ctx, nr.DataRep)
		if err != nil {
			return err
		}
		if err := n.repo.writeRep(ctx, key, data); err != nil {
			return err
		}
		nr.DataRep = &key
		nr.TextChecksum = Checksum(data)
		nr.TextLength = int64(len(data))
		return nil
	})
}

// IncrementMergeinfoCount adds delta to the node's mergeinfo count.
func (n *Node) IncrementMergeinfoCount(ctx context.Context, delta int64) error {
	if delta == 0 {
		return nil
	}
	return n.modify(ctx, func(nr *NodeRev) error {
		nr.MergeinfoCount += delta
		if nr.MergeinfoCount < 0 {
			return fserr.Corrupt("can't increment mergeinfo count on node-revision %s to negative value %d", n.id, nr.MergeinfoCount)
		}
		if nr.MergeinfoCount > 1 && nr.Kind == File {
			return fserr.Corrupt("can't increment mergeinfo count on file node-revision %s to %d (> 1)", n.id, nr.MergeinfoCount)
		}
		return nil
	})
}

// SetHasMergeinfo records whether the node itself carries mergeinfo.
func (n *Node) SetHasMergeinfo(ctx context.Context, has bool) error {
	return n.modify(ctx, func(nr *NodeRev) error {
		nr.HasMergeinfo = has
		return nil
	})
}

// UpdateAncestry makes source the predecessor of the mutable node.
func (n *Node) UpdateAncestry(ctx context.Context, source *Node) error {
	snr, err := source.read(ctx)
	if err != nil {
		return err
	}
	return n.modify(ctx, func(nr *NodeRev) error {
		pred := source.ID()
		nr.Predecessor = &pred
		nr.PredecessorCount = snr.PredecessorCount + 1
		return nil
	})
}
