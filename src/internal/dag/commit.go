package dag

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// BeforeCommitFunc is called under the write lock, after the out-of-date check and before anything
// is written.  An error aborts the commit.
type BeforeCommitFunc func(ctx context.Context, txn *TxnRecord, changes map[string]*Change) error

// CheckOutOfDate fails with ErrOutOfDate if txn was begun with CheckOOD and a node the transaction
// modified, deleted or replaced has been changed, or removed, by a revision committed after the
// transaction's base.  Such a transaction is not merged forward.
func (r *Repo) CheckOutOfDate(ctx context.Context, txn nodeid.TxnID, youngest nodeid.Revnum) error {
	rec, err := r.getTxnRecord(ctx, txn)
	if err != nil {
		return err
	}
	if !rec.CheckOOD || rec.BaseRev >= youngest {
		return nil
	}
	changes, err := r.TxnChanges(ctx, txn)
	if err != nil {
		return err
	}
	root, err := r.RevisionRoot(ctx, youngest)
	if err != nil {
		return err
	}
	for _, c := range sortedChanges(changes) {
		if c.Kind == Add {
			continue
		}
		path := c.Path
		n, err := root.lookup(ctx, path)
		if err != nil {
			return err
		}
		if n == nil {
			return errors.Errorf("'%s' was removed after revision %d: %w", path, rec.BaseRev, fserr.ErrOutOfDate)
		}
		if n.Revision() > rec.BaseRev {
			return errors.Errorf("'%s' changed in revision %d: %w", path, n.Revision(), fserr.ErrOutOfDate)
		}
	}
	return nil
}

// lookup walks path down from n, returning nil if it does not exist.
func (n *Node) lookup(ctx context.Context, path string) (*Node, error) {
	for _, name := range fspath.Components(path) {
		if n.Kind() != Dir {
			return nil, nil
		}
		child, err := n.Child(ctx, name)
		if err != nil || child == nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// Commit writes txn as the revision after its base, which must be the youngest revision.  The
// transaction is removed once the new revision is visible.
func (r *Repo) Commit(ctx context.Context, txn nodeid.TxnID, before BeforeCommitFunc) (_ nodeid.Revnum, retErr error) {
	defer log.Span(ctx, "dag.Commit", log.Txn(string(txn)))(log.Errorp(&retErr))
	ctx, err := r.writeLock.Lock(ctx)
	if err != nil {
		return nodeid.InvalidRevnum, err
	}
	defer func() {
		retErr = errors.Join(retErr, r.writeLock.Unlock(ctx))
	}()
	youngest, err := r.Youngest(ctx)
	if err != nil {
		return nodeid.InvalidRevnum, err
	}
	rec, err := r.getTxnRecord(ctx, txn)
	if err != nil {
		return nodeid.InvalidRevnum, err
	}
	if rec.BaseRev != youngest {
		return nodeid.InvalidRevnum, errors.EnsureStack(fserr.ErrOutOfDate)
	}
	changes, err := r.TxnChanges(ctx, txn)
	if err != nil {
		return nodeid.InvalidRevnum, err
	}
	if before != nil {
		if err := before(ctx, rec, changes); err != nil {
			return nodeid.InvalidRevnum, err
		}
	}

	c := &committer{
		repo:     r,
		txn:      rec,
		rev:      youngest + 1,
		ids:      make(map[nodeid.ID]nodeid.ID),
		nextItem: 1,
	}
	if r.usesGlobalIDs() {
		if err := r.getRecord(ctx, []byte(nextIDsKey), &c.start); err != nil {
			return nodeid.InvalidRevnum, err
		}
	}
	rootID, err := c.writeFinal(ctx, rec.RootID)
	if err != nil {
		return nodeid.InvalidRevnum, err
	}
	for _, ch := range changes {
		if final, ok := c.ids[ch.NodeID]; ok {
			ch.NodeID = final
		}
	}
	if err := r.putRecord(ctx, revKey(c.rev, "info"), &RevRecord{Root: rootID, Changes: sortedChanges(changes)}); err != nil {
		return nodeid.InvalidRevnum, err
	}
	props := make(map[string]string, len(rec.Props)+1)
	for k, v := range rec.Props {
		props[k] = v
	}
	props[PropDate] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.putRecord(ctx, revKey(c.rev, "props"), props); err != nil {
		return nodeid.InvalidRevnum, err
	}
	if r.usesGlobalIDs() {
		next := nextIDs{NodeID: c.start.NodeID + rec.NextNodeID, CopyID: c.start.CopyID + rec.NextCopyID}
		if err := r.putRecord(ctx, []byte(nextIDsKey), &next); err != nil {
			return nodeid.InvalidRevnum, err
		}
		for nodeID, origin := range c.origins {
			if err := r.SetNodeOrigin(ctx, nodeID, origin); err != nil {
				return nodeid.InvalidRevnum, err
			}
		}
	}
	// Bumping youngest publishes the revision.
	if err := r.putYoungest(ctx, c.rev); err != nil {
		return nodeid.InvalidRevnum, err
	}
	if err := r.purgeTxn(ctx, txn); err != nil {
		log.Error(ctx, "could not purge committed transaction", zap.Error(err))
	}
	log.Info(ctx, "committed revision", log.Revision("rev", int64(c.rev)), zap.Int("changes", len(changes)))
	return c.rev, nil
}

type committer struct {
	repo     *Repo
	txn      *TxnRecord
	rev      nodeid.Revnum
	ids      map[nodeid.ID]nodeid.ID
	nextItem uint64
	start    nextIDs
	origins  map[string]nodeid.ID
}

func (c *committer) finalKey(key string, start uint64) (string, error) {
	if !nodeid.IsTxnLocal(key) {
		return key, nil
	}
	if !c.repo.usesGlobalIDs() {
		return nodeid.RevLocal(key, c.rev), nil
	}
	n, err := nodeid.ParseTxnLocal(key)
	if err != nil {
		return "", fserr.Corrupt("%v", err)
	}
	return nodeid.Global(start + n), nil
}

func (c *committer) writeRep(ctx context.Context, k *RepKey, data []byte) (*RepKey, error) {
	if data == nil {
		var err error
		if data, err = c.repo.readRep(ctx, *k); err != nil {
			return nil, err
		}
	}
	final := RepKey{Rev: c.rev, Item: c.nextItem}
	c.nextItem++
	if err := c.repo.writeRep(ctx, final, data); err != nil {
		return nil, err
	}
	return &final, nil
}

// writeFinal writes the mutable node-revision id, after its mutable descendants, as part of the
// new revision and returns its final id.
func (c *committer) writeFinal(ctx context.Context, id nodeid.ID) (nodeid.ID, error) {
	if !id.IsMutable() {
		return id, nil
	}
	if id.Txn != c.txn.ID {
		return nodeid.ID{}, fserr.Corrupt("node-revision %s does not belong to transaction %s", id, c.txn.ID)
	}
	nr, err := c.repo.readNodeRev(ctx, id)
	if err != nil {
		return nodeid.ID{}, err
	}
	if nr.Kind == Dir {
		entries, err := c.repo.readEntries(ctx, nr.DataRep)
		if err != nil {
			return nodeid.ID{}, err
		}
		changed := false
		for name, e := range entries {
			if !e.ID.IsMutable() {
				continue
			}
			final, err := c.writeFinal(ctx, e.ID)
			if err != nil {
				return nodeid.ID{}, err
			}
			entries[name] = DirEntry{ID: final, Kind: e.Kind}
			changed = true
		}
		if changed || (nr.DataRep != nil && nr.DataRep.IsMutable()) {
			data, err := encodeEntries(entries)
			if err != nil {
				return nodeid.ID{}, err
			}
			if nr.DataRep, err = c.writeRep(ctx, nr.DataRep, data); err != nil {
				return nodeid.ID{}, err
			}
		}
	} else if nr.DataRep != nil && nr.DataRep.IsMutable() {
		if nr.DataRep, err = c.writeRep(ctx, nr.DataRep, nil); err != nil {
			return nodeid.ID{}, err
		}
	}
	if nr.PropRep != nil && nr.PropRep.IsMutable() {
		if nr.PropRep, err = c.writeRep(ctx, nr.PropRep, nil); err != nil {
			return nodeid.ID{}, err
		}
	}

	nodeID, err := c.finalKey(id.NodeID, c.start.NodeID)
	if err != nil {
		return nodeid.ID{}, err
	}
	copyID, err := c.finalKey(id.CopyID, c.start.CopyID)
	if err != nil {
		return nodeid.ID{}, err
	}
	if !nr.CopyRootRev.IsValid() {
		nr.CopyRootRev = c.rev
	}
	if nr.Predecessor != nil {
		if final, ok := c.ids[*nr.Predecessor]; ok {
			nr.Predecessor = &final
		}
	}
	nr.IsFreshTxnRoot = false
	nr.ID = nodeid.NewRevisionID(nodeID, copyID, c.rev, c.nextItem)
	c.nextItem++
	if err := c.repo.putRecord(ctx, nodeKey(nr.ID), nr); err != nil {
		return nodeid.ID{}, err
	}
	c.ids[id] = nr.ID
	if c.repo.usesGlobalIDs() && nodeid.IsTxnLocal(id.NodeID) {
		if c.origins == nil {
			c.origins = make(map[string]nodeid.ID)
		}
		c.origins[nodeID] = nr.ID
	}
	return nr.ID, nil
}
