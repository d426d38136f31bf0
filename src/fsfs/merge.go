package fsfs

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

func conflict(path string) error {
	return errors.WithStack(&ConflictError{Path: path})
}

// merge merges the changes between ancestor and source into the mutable directory target, which
// is reached at targetPath.  It returns the change in target's mergeinfo count.  Entries are visited
// in map order, so when several paths conflict, which one is reported is not defined.
func merge(ctx context.Context, repo *dag.Repo, targetPath string, target, source, ancestor *dag.Node) (int64, error) {
	if ancestor.ID().Equal(target.ID()) {
		return 0, fserr.Malfunction("merge of '%s' with its own ancestor", targetPath)
	}
	if ancestor.ID().Equal(source.ID()) || source.ID().Equal(target.ID()) {
		return 0, nil
	}
	if source.Kind() != dag.Dir || target.Kind() != dag.Dir || ancestor.Kind() != dag.Dir {
		return 0, conflict(targetPath)
	}
	// A property change to a directory only merges when the rest of the directory is up to date.
	if same, err := dag.SameProps(ctx, source, ancestor); err != nil {
		return 0, err
	} else if !same {
		return 0, conflict(targetPath)
	}
	if same, err := dag.SameProps(ctx, target, ancestor); err != nil {
		return 0, err
	} else if !same {
		return 0, conflict(targetPath)
	}

	sEntries, err := source.Entries(ctx)
	if err != nil {
		return 0, err
	}
	tEntries, err := target.Entries(ctx)
	if err != nil {
		return 0, err
	}
	aEntries, err := ancestor.Entries(ctx)
	if err != nil {
		return 0, err
	}
	trackMergeinfo := repo.SupportsMergeinfo()
	mergeinfoCount := func(id nodeid.ID) (int64, error) {
		if !trackMergeinfo {
			return 0, nil
		}
		n, err := repo.GetNode(ctx, id)
		if err != nil {
			return 0, err
		}
		return n.MergeinfoCount(ctx)
	}

	var increment int64
	for name, aEntry := range aEntries {
		sEntry, inSource := sEntries[name]
		tEntry, inTarget := tEntries[name]
		entryPath := fspath.Join(targetPath, name)
		switch {
		case inSource && sEntry.ID.Equal(aEntry.ID):
			// Unchanged in source.
		case inTarget && tEntry.ID.Equal(aEntry.ID):
			// Changed in source only: take source's version.
			start, err := mergeinfoCount(tEntry.ID)
			if err != nil {
				return 0, err
			}
			increment -= start
			if inSource {
				end, err := mergeinfoCount(sEntry.ID)
				if err != nil {
					return 0, err
				}
				increment += end
				if err := target.SetEntry(ctx, name, sEntry.ID, sEntry.Kind); err != nil {
					return 0, err
				}
			} else if err := target.DeleteEntry(ctx, name); err != nil {
				return 0, err
			}
		default:
			// Changed on both sides.
			if !inSource || !inTarget {
				return 0, conflict(entryPath)
			}
			if sEntry.Kind == dag.File || tEntry.Kind == dag.File || aEntry.Kind == dag.File {
				return 0, conflict(entryPath)
			}
			if sEntry.ID.NodeID != aEntry.ID.NodeID || sEntry.ID.CopyID != aEntry.ID.CopyID ||
				tEntry.ID.NodeID != aEntry.ID.NodeID || tEntry.ID.CopyID != aEntry.ID.CopyID {
				return 0, conflict(entryPath)
			}
			sNode, err := repo.GetNode(ctx, sEntry.ID)
			if err != nil {
				return 0, err
			}
			tNode, err := repo.GetNode(ctx, tEntry.ID)
			if err != nil {
				return 0, err
			}
			aNode, err := repo.GetNode(ctx, aEntry.ID)
			if err != nil {
				return 0, err
			}
			sub, err := merge(ctx, repo, entryPath, tNode, sNode, aNode)
			if err != nil {
				return 0, err
			}
			increment += sub
		}
		delete(sEntries, name)
	}

	// What is left in source was added there.
	for name, sEntry := range sEntries {
		if _, ok := tEntries[name]; ok {
			return 0, conflict(fspath.Join(targetPath, name))
		}
		count, err := mergeinfoCount(sEntry.ID)
		if err != nil {
			return 0, err
		}
		increment += count
		if err := target.SetEntry(ctx, name, sEntry.ID, sEntry.Kind); err != nil {
			return 0, err
		}
	}

	if err := target.UpdateAncestry(ctx, source); err != nil {
		return 0, err
	}
	if trackMergeinfo {
		if err := target.IncrementMergeinfoCount(ctx, increment); err != nil {
			return 0, err
		}
	}
	return increment, nil
}

// mergeChanges merges the changes between ancestor and source into the root of txn.  A nil
// ancestor means the root of the transaction's base revision.
func (fs *FS) mergeChanges(ctx context.Context, txn nodeid.TxnID, ancestor, source *dag.Node) error {
	target, err := fs.repo.TxnRoot(ctx, txn)
	if err != nil {
		return err
	}
	if ancestor == nil {
		if ancestor, err = fs.repo.TxnBaseRoot(ctx, txn); err != nil {
			return err
		}
	}
	if ancestor.ID().Equal(target.ID()) {
		return fserr.Malfunction("transaction '%s' root is its own ancestor", txn)
	}
	defer func() {
		if st, err := fs.sharedTxn(txn); err == nil {
			st.cache.Invalidate(fspath.Root)
		}
	}()
	_, err = merge(ctx, fs.repo, fspath.Root, target, source, ancestor)
	return err
}

// Merge merges the changes between the tree at ancestorPath in ancestor and the tree at sourcePath
// in source into the transaction root target.  The merged changes are not recorded as changes of
// the transaction.  A merge that cannot be completed fails with a ConflictError naming the first
// conflicting path found.
func Merge(ctx context.Context, source *Root, sourcePath string, target *Root, targetPath string, ancestor *Root, ancestorPath string) (retErr error) {
	defer log.Span(ctx, "fsfs.Merge", log.Path(targetPath))(log.Errorp(&retErr))
	if err := target.requireTxnRoot(); err != nil {
		return err
	}
	fs := ancestor.fs
	if source.fs.UUID() != fs.UUID() || target.fs.UUID() != fs.UUID() {
		return fserr.Corrupt("bad merge: ancestor, source and target not all in the same filesystem")
	}
	ancestorNode, err := ancestor.getDAG(ctx, ancestorPath)
	if err != nil {
		return err
	}
	sourceNode, err := source.getDAG(ctx, sourcePath)
	if err != nil {
		return err
	}
	targetPath = fspath.Canonicalize(targetPath)
	if targetPath == fspath.Root {
		err := fs.mergeChanges(ctx, target.txn, ancestorNode, sourceNode)
		if IsConflict(err) {
			log.Info(ctx, "merge conflict", log.Path(targetPath), log.Txn(string(target.txn)))
		}
		return err
	}
	pp, err := target.openPath(ctx, targetPath, 0, true)
	if err != nil {
		return err
	}
	if err := target.makePathMutable(ctx, pp, targetPath); err != nil {
		return err
	}
	defer target.invalidate(targetPath)
	increment, err := merge(ctx, fs.repo, targetPath, pp.node, sourceNode, ancestorNode)
	if err != nil {
		return err
	}
	if fs.repo.SupportsMergeinfo() && pp.parent != nil {
		return target.incrementMergeinfoUpTree(ctx, pp.parent, increment)
	}
	return nil
}
