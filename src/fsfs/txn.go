package fsfs

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
)

// TxnFlags are the options a transaction is begun with.
type TxnFlags = dag.TxnFlags

// Txn is an open transaction.  A Txn is owned by the caller that began or opened it and must not be
// used from more than one goroutine at a time.
type Txn struct {
	fs    *FS
	id    nodeid.TxnID
	flags TxnFlags
}

// BeginTxn starts a transaction based on rev.
func (fs *FS) BeginTxn(ctx context.Context, rev Revnum, flags TxnFlags) (_ *Txn, retErr error) {
	defer log.Span(ctx, "fsfs.BeginTxn", log.Revision("base", int64(rev)))(log.Errorp(&retErr))
	rec, err := fs.repo.BeginTxn(ctx, rev, flags)
	if err != nil {
		return nil, err
	}
	if _, err := fs.sharedTxn(rec.ID); err != nil {
		return nil, err
	}
	return &Txn{fs: fs, id: rec.ID, flags: flags}, nil
}

// OpenTxn opens an existing transaction by name.
func (fs *FS) OpenTxn(ctx context.Context, name string) (*Txn, error) {
	rec, err := fs.repo.GetTxn(ctx, nodeid.TxnID(name))
	if err != nil {
		return nil, err
	}
	return &Txn{
		fs:    fs,
		id:    rec.ID,
		flags: TxnFlags{CheckLocks: rec.CheckLocks, CheckOOD: rec.CheckOOD},
	}, nil
}

// ListTxns returns the names of the open transactions.
func (fs *FS) ListTxns(ctx context.Context) ([]string, error) {
	ids, err := fs.repo.ListTxns(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names, nil
}

// PurgeTxn removes a transaction and everything it holds.
func (fs *FS) PurgeTxn(ctx context.Context, name string) error {
	id := nodeid.TxnID(name)
	fs.forgetTxn(id)
	return fs.repo.AbortTxn(ctx, id)
}

// Name returns the transaction's name.
func (t *Txn) Name() string {
	return string(t.id)
}

// Flags returns the options the transaction was begun with.
func (t *Txn) Flags() TxnFlags {
	return t.flags
}

// Base returns the revision the transaction is currently based on.  Commit moves it forward as it
// merges in newer revisions.
func (t *Txn) Base(ctx context.Context) (Revnum, error) {
	rec, err := t.fs.repo.GetTxn(ctx, t.id)
	if err != nil {
		return InvalidRevnum, err
	}
	return rec.BaseRev, nil
}

// Root returns the transaction's root.
func (t *Txn) Root(ctx context.Context) (*Root, error) {
	if _, err := t.fs.repo.GetTxn(ctx, t.id); err != nil {
		return nil, err
	}
	st, err := t.fs.sharedTxn(t.id)
	if err != nil {
		return nil, err
	}
	return &Root{fs: t.fs, rev: InvalidRevnum, txn: t.id, flags: t.flags, txnCache: st.cache}, nil
}

// Abort removes the transaction.
func (t *Txn) Abort(ctx context.Context) error {
	return t.fs.PurgeTxn(ctx, string(t.id))
}

// Prop returns a property of the transaction, or nil.
func (t *Txn) Prop(ctx context.Context, name string) (*string, error) {
	props, err := t.fs.repo.TxnProplist(ctx, t.id)
	if err != nil {
		return nil, err
	}
	if v, ok := props[name]; ok {
		return &v, nil
	}
	return nil, nil
}

// Props returns the properties of the transaction.  They become the properties of the revision it
// commits as.
func (t *Txn) Props(ctx context.Context) (map[string]string, error) {
	return t.fs.repo.TxnProplist(ctx, t.id)
}

// ChangeProp sets a property of the transaction.  A nil value deletes it.
func (t *Txn) ChangeProp(ctx context.Context, name string, value *string) error {
	return t.fs.repo.ChangeTxnProp(ctx, t.id, name, value)
}
