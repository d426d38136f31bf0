package dag

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	"github.com/pachyderm/fsfs/src/internal/storage/kv"
)

// TxnRecord is the stored record of a transaction.
type TxnRecord struct {
	ID      nodeid.TxnID  `cbor:"id"`
	BaseRev nodeid.Revnum `cbor:"base"`
	RootID  nodeid.ID     `cbor:"root"`

	NextNodeID uint64 `cbor:"nextNode"`
	NextCopyID uint64 `cbor:"nextCopy"`
	NextItem   uint64 `cbor:"nextItem"`

	Props map[string]string `cbor:"props,omitempty"`
	// CheckLocks makes commit verify the locks of every changed path.
	CheckLocks bool `cbor:"checkLocks,omitempty"`
	// CheckOOD makes commit fail, rather than merge, when a revision committed after the base
	// changed a path the transaction changed.  See CheckOutOfDate.
	CheckOOD bool `cbor:"checkOOD,omitempty"`
}

// TxnFlags are the options a transaction is begun with.
type TxnFlags struct {
	CheckLocks bool
	CheckOOD   bool
}

func (r *Repo) getTxnRecord(ctx context.Context, txn nodeid.TxnID) (*TxnRecord, error) {
	rec := &TxnRecord{}
	if err := r.getRecord(ctx, txnKey(txn, "info"), rec); err != nil {
		if kv.IsNotExist(err) {
			return nil, errors.WithStack(&fserr.NoSuchTxnError{Txn: string(txn)})
		}
		return nil, err
	}
	return rec, nil
}

// updateTxn applies f to the record of txn and stores the result.
func (r *Repo) updateTxn(ctx context.Context, txn nodeid.TxnID, f func(*TxnRecord) error) (*TxnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, err := r.getTxnRecord(ctx, txn)
	if err != nil {
		return nil, err
	}
	if err := f(rec); err != nil {
		return nil, err
	}
	if err := r.putRecord(ctx, txnKey(txn, "info"), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// BeginTxn starts a transaction based on rev.  Its root is a mutable successor of rev's root.
func (r *Repo) BeginTxn(ctx context.Context, rev nodeid.Revnum, flags TxnFlags) (_ *TxnRecord, retErr error) {
	defer log.Span(ctx, "dag.BeginTxn", log.Revision("base", int64(rev)))(log.Errorp(&retErr))
	baseRoot, err := r.RevisionRoot(ctx, rev)
	if err != nil {
		return nil, err
	}
	id, err := r.allocateTxnID(ctx, rev)
	if err != nil {
		return nil, err
	}
	rec := &TxnRecord{
		ID:         id,
		BaseRev:    rev,
		NextItem:   1,
		CheckLocks: flags.CheckLocks,
		CheckOOD:   flags.CheckOOD,
	}
	nr, err := baseRoot.NodeRev(ctx)
	if err != nil {
		return nil, err
	}
	pred := nr.ID
	nr.ID = nodeid.NewTxnID(pred.NodeID, pred.CopyID, id, rec.NextItem)
	rec.NextItem++
	nr.Predecessor = &pred
	nr.PredecessorCount++
	nr.CopyFromRev, nr.CopyFromPath = nodeid.InvalidRevnum, ""
	nr.IsFreshTxnRoot = true
	rec.RootID = nr.ID
	if err := r.writeNodeRev(ctx, nr); err != nil {
		return nil, err
	}
	if err := r.putRecord(ctx, txnKey(id, "info"), rec); err != nil {
		return nil, err
	}
	log.Debug(ctx, "began transaction", log.Txn(string(id)))
	return rec, nil
}

func (r *Repo) allocateTxnID(ctx context.Context, base nodeid.Revnum) (_ nodeid.TxnID, retErr error) {
	ctx, err := r.txnLock.Lock(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		retErr = errors.Join(retErr, r.txnLock.Unlock(ctx))
	}()
	var next uint64
	data, err := kv.GetBytes(ctx, r.store, []byte(txnCurrentKey))
	if err != nil && !kv.IsNotExist(err) {
		return "", err
	}
	if err == nil {
		if next, err = strconv.ParseUint(string(data), 36, 64); err != nil {
			return "", fserr.Corrupt("malformed transaction counter %q", data)
		}
	}
	if err := r.store.Put(ctx, []byte(txnCurrentKey), []byte(strconv.FormatUint(next+1, 36))); err != nil {
		return "", err
	}
	return nodeid.TxnID(base.String() + "-" + strconv.FormatUint(next, 36)), nil
}

// GetTxn returns the record of an open transaction.
func (r *Repo) GetTxn(ctx context.Context, txn nodeid.TxnID) (*TxnRecord, error) {
	return r.getTxnRecord(ctx, txn)
}

// ListTxns returns the ids of every open transaction.
func (r *Repo) ListTxns(ctx context.Context) ([]nodeid.TxnID, error) {
	keys, err := kv.Keys(ctx, r.store, kv.SpanFromPrefix([]byte(txnPrefix)))
	if err != nil {
		return nil, err
	}
	var result []nodeid.TxnID
	for _, k := range keys {
		rest := strings.TrimPrefix(string(k), txnPrefix)
		if id, ok := strings.CutSuffix(rest, "/info"); ok && !strings.Contains(id, "/") {
			result = append(result, nodeid.TxnID(id))
		}
	}
	slices.Sort(result)
	return result, nil
}

// SetTxnBase changes the revision txn is based on.
func (r *Repo) SetTxnBase(ctx context.Context, txn nodeid.TxnID, rev nodeid.Revnum) error {
	_, err := r.updateTxn(ctx, txn, func(rec *TxnRecord) error {
		rec.BaseRev = rev
		return nil
	})
	return err
}

// TxnRoot returns the root directory of txn.
func (r *Repo) TxnRoot(ctx context.Context, txn nodeid.TxnID) (*Node, error) {
	rec, err := r.getTxnRecord(ctx, txn)
	if err != nil {
		return nil, err
	}
	return r.GetNode(ctx, rec.RootID)
}

// TxnBaseRoot returns the root directory of the revision txn is based on.
func (r *Repo) TxnBaseRoot(ctx context.Context, txn nodeid.TxnID) (*Node, error) {
	rec, err := r.getTxnRecord(ctx, txn)
	if err != nil {
		return nil, err
	}
	return r.RevisionRoot(ctx, rec.BaseRev)
}

// AbortTxn removes txn and everything it holds.
func (r *Repo) AbortTxn(ctx context.Context, txn nodeid.TxnID) (retErr error) {
	defer log.Span(ctx, "dag.AbortTxn", log.Txn(string(txn)))(log.Errorp(&retErr))
	if _, err := r.getTxnRecord(ctx, txn); err != nil {
		return err
	}
	return r.purgeTxn(ctx, txn)
}

func (r *Repo) purgeTxn(ctx context.Context, txn nodeid.TxnID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return kv.DeletePrefix(ctx, r.store, []byte(txnKeyPrefix(txn)))
}

// ReserveCopyID reserves a new copy-id in txn.
func (r *Repo) ReserveCopyID(ctx context.Context, txn nodeid.TxnID) (string, error) {
	var id string
	_, err := r.updateTxn(ctx, txn, func(rec *TxnRecord) error {
		id = nodeid.TxnLocal(rec.NextCopyID)
		rec.NextCopyID++
		return nil
	})
	return id, err
}

func (r *Repo) reserveNodeID(ctx context.Context, txn nodeid.TxnID) (string, uint64, error) {
	var (
		id   string
		item uint64
	)
	_, err := r.updateTxn(ctx, txn, func(rec *TxnRecord) error {
		id = nodeid.TxnLocal(rec.NextNodeID)
		rec.NextNodeID++
		item = rec.NextItem
		rec.NextItem++
		return nil
	})
	return id, item, err
}

func (r *Repo) reserveItem(ctx context.Context, txn nodeid.TxnID) (uint64, error) {
	var item uint64
	_, err := r.updateTxn(ctx, txn, func(rec *TxnRecord) error {
		item = rec.NextItem
		rec.NextItem++
		return nil
	})
	return item, err
}

// TxnProplist returns the properties of txn.
func (r *Repo) TxnProplist(ctx context.Context, txn nodeid.TxnID) (map[string]string, error) {
	rec, err := r.getTxnRecord(ctx, txn)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string, len(rec.Props))
	for k, v := range rec.Props {
		props[k] = v
	}
	return props, nil
}

// ChangeTxnProp sets (or, with a nil value, deletes) a property of txn.
func (r *Repo) ChangeTxnProp(ctx context.Context, txn nodeid.TxnID, name string, value *string) error {
	_, err := r.updateTxn(ctx, txn, func(rec *TxnRecord) error {
		if value == nil {
			delete(rec.Props, name)
			return nil
		}
		if rec.Props == nil {
			rec.Props = make(map[string]string)
		}
		rec.Props[name] = *value
		return nil
	})
	log.Debug(ctx, "changed transaction property", log.Txn(string(txn)), zap.String("name", name))
	return err
}
