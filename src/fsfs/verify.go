package fsfs

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/mergeinfo"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// Verify checks the node-revisions committed in revisions start through end: every directory's
// mergeinfo count must be the sum of its children's plus its own, every predecessor count must
// follow from the predecessor's, and a node flagged as having mergeinfo must carry the property.
// Revisions are checked in parallel.  The first violation found is returned as a CorruptError.
func (fs *FS) Verify(ctx context.Context, start, end Revnum) (retErr error) {
	defer log.Span(ctx, "fsfs.Verify", log.Revision("start", int64(start)), log.Revision("end", int64(end)))(log.Errorp(&retErr))
	youngest, err := fs.repo.Youngest(ctx)
	if err != nil {
		return err
	}
	if !end.IsValid() {
		end = youngest
	}
	if start < 0 || start > end {
		return errors.Errorf("invalid revision range %d:%d", start, end)
	}
	if end > youngest {
		return errors.WithStack(&NoSuchRevisionError{Rev: int64(end)})
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(fs.config.VerifyParallelism, 1))
	for rev := start; rev <= end; rev++ {
		rev := rev
		eg.Go(func() error {
			root, err := fs.RevisionRoot(ctx, rev)
			if err != nil {
				return err
			}
			return root.verifyTree(ctx)
		})
	}
	return errors.EnsureStack(eg.Wait())
}

// Verify checks the node-revisions of the root's revision or transaction, like FS.Verify.
func (r *Root) Verify(ctx context.Context) (retErr error) {
	defer log.Span(ctx, "fsfs.Root.Verify", log.Revision("rev", int64(r.rev)), log.Txn(string(r.txn)))(log.Errorp(&retErr))
	return r.verifyTree(ctx)
}

func (r *Root) verifyTree(ctx context.Context) error {
	root, err := r.rootDAG(ctx)
	if err != nil {
		return err
	}
	return r.verifyNode(ctx, fspath.Root, root)
}

// ownsNode reports whether n was written by the root's revision or transaction.  Older nodes were
// verified with their own revision.
func (r *Root) ownsNode(n *dag.Node) bool {
	if r.IsTxnRoot() {
		return n.IsMutable()
	}
	return n.Revision() == r.rev
}

func (r *Root) verifyNode(ctx context.Context, path string, n *dag.Node) error {
	if err := ctx.Err(); err != nil {
		return errors.EnsureStack(err)
	}
	nr, err := n.NodeRev(ctx)
	if err != nil {
		return err
	}
	if nr.Predecessor == nil {
		if nr.PredecessorCount != 0 {
			return fserr.Corrupt("node-revision %s at '%s' has no predecessor but a predecessor count of %d", nr.ID, path, nr.PredecessorCount)
		}
	} else {
		pred, err := r.fs.repo.GetNode(ctx, *nr.Predecessor)
		if err != nil {
			return err
		}
		count, err := pred.PredecessorCount(ctx)
		if err != nil {
			return err
		}
		if nr.PredecessorCount != count+1 {
			return fserr.Corrupt("node-revision %s at '%s' has predecessor count %d but its predecessor has %d", nr.ID, path, nr.PredecessorCount, count)
		}
	}
	if nr.HasMergeinfo {
		props, err := n.Proplist(ctx)
		if err != nil {
			return err
		}
		if _, ok := props[mergeinfo.PropName]; !ok {
			return fserr.Corrupt("node-revision %s at '%s' claims to have mergeinfo but doesn't", nr.ID, path)
		}
	}
	var own int64
	if nr.HasMergeinfo {
		own = 1
	}
	if n.Kind() != dag.Dir {
		if r.fs.repo.SupportsMergeinfo() && nr.MergeinfoCount != own {
			return fserr.Corrupt("file node-revision %s at '%s' has mergeinfo count %d", nr.ID, path, nr.MergeinfoCount)
		}
		return nil
	}
	entries, err := n.Entries(ctx)
	if err != nil {
		return err
	}
	sum := own
	for name, entry := range entries {
		kid, err := r.fs.repo.GetNode(ctx, entry.ID)
		if err != nil {
			return err
		}
		count, err := kid.MergeinfoCount(ctx)
		if err != nil {
			return err
		}
		sum += count
		if r.ownsNode(kid) {
			if err := r.verifyNode(ctx, fspath.Join(path, name), kid); err != nil {
				return err
			}
		}
	}
	if r.fs.repo.SupportsMergeinfo() && nr.MergeinfoCount != sum {
		return fserr.Corrupt("directory node-revision %s at '%s' has mergeinfo count %d, but its subtree has %d", nr.ID, path, nr.MergeinfoCount, sum)
	}
	return nil
}
