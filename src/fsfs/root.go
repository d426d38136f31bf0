package fsfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/dagcache"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// NodeKind is the kind of node at a path.
type NodeKind = dag.Kind

const (
	KindNone = dag.None
	KindFile = dag.File
	KindDir  = dag.Dir
)

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name string
	ID   nodeid.ID
	Kind NodeKind
}

// Root is a view of the tree: either a committed revision, which is read-only, or a transaction,
// which may be edited.
type Root struct {
	fs *FS

	// rev is the revision of a revision root, InvalidRevnum for a transaction root.
	rev      Revnum
	rootNode *dag.Node

	txn      nodeid.TxnID
	flags    TxnFlags
	txnCache *dagcache.TxnCache

	copyfromMu sync.Mutex
	// copyfrom maps the paths changed in rev to their copy source.  Nil until PathsChanged fills it.
	copyfrom map[string]copySource
}

type copySource struct {
	rev  Revnum
	path string
}

// FS returns the filesystem r belongs to.
func (r *Root) FS() *FS {
	return r.fs
}

// IsTxnRoot reports whether r is the root of a transaction.
func (r *Root) IsTxnRoot() bool {
	return r.txn != ""
}

// IsRevisionRoot reports whether r is the root of a revision.
func (r *Root) IsRevisionRoot() bool {
	return r.txn == ""
}

// Revision returns the revision of a revision root, or InvalidRevnum.
func (r *Root) Revision() Revnum {
	return r.rev
}

// TxnName returns the transaction of a transaction root, or "".
func (r *Root) TxnName() string {
	return string(r.txn)
}

func (r *Root) String() string {
	if r.IsTxnRoot() {
		return fmt.Sprintf("transaction '%s'", r.txn)
	}
	return fmt.Sprintf("revision %d", r.rev)
}

func (r *Root) requireTxnRoot() error {
	if !r.IsTxnRoot() {
		return errors.EnsureStack(ErrNotTxnRoot)
	}
	return nil
}

func (r *Root) requireRevisionRoot() error {
	if !r.IsRevisionRoot() {
		return errors.EnsureStack(ErrNotRevisionRoot)
	}
	return nil
}

// rootDAG returns the root directory node.  A transaction's root is read afresh: it may have been
// replaced by a merge.
func (r *Root) rootDAG(ctx context.Context) (*dag.Node, error) {
	if r.IsRevisionRoot() {
		return r.rootNode, nil
	}
	return r.fs.repo.TxnRoot(ctx, r.txn)
}

// cacheGet returns the node cached at path.  The returned release func must be called once the
// node is no longer needed.
func (r *Root) cacheGet(path string) (*dag.Node, func()) {
	if r.IsTxnRoot() {
		n, _ := r.txnCache.Get(path)
		return n, func() {}
	}
	lease, ok := r.fs.nodeCache.Get(r.rev, path)
	if !ok {
		return nil, func() {}
	}
	return lease.Node(), lease.Release
}

func (r *Root) cacheSet(path string, n *dag.Node) {
	if r.IsTxnRoot() {
		r.txnCache.Set(path, n)
		return
	}
	r.fs.nodeCache.Set(r.rev, path, n)
}

// invalidate drops the cached nodes of a transaction root at and below path.
func (r *Root) invalidate(path string) {
	if r.IsTxnRoot() {
		r.txnCache.Invalidate(path)
	}
}

// getDAG returns the node at path.
func (r *Root) getDAG(ctx context.Context, path string) (*dag.Node, error) {
	path = fspath.Canonicalize(path)
	n, release := r.cacheGet(path)
	release()
	if n != nil {
		return n, nil
	}
	pp, err := r.openPath(ctx, path, openNodeOnly, false)
	if err != nil {
		return nil, err
	}
	return pp.node, nil
}

// NodeID returns the id of the node-revision at path.
func (r *Root) NodeID(ctx context.Context, path string) (nodeid.ID, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return nodeid.ID{}, err
	}
	return n.ID(), nil
}

// CheckPath returns the kind of node at path, or KindNone if there is none.
func (r *Root) CheckPath(ctx context.Context, path string) (NodeKind, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		if IsNotFound(err) || IsNotDirectory(err) {
			return KindNone, nil
		}
		return KindNone, err
	}
	return n.Kind(), nil
}

// NodeProplist returns the properties of the node at path.
func (r *Root) NodeProplist(ctx context.Context, path string) (map[string]string, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return nil, err
	}
	return n.Proplist(ctx)
}

// NodeProp returns one property of the node at path, or nil.
func (r *Root) NodeProp(ctx context.Context, path, name string) (*string, error) {
	props, err := r.NodeProplist(ctx, path)
	if err != nil {
		return nil, err
	}
	if v, ok := props[name]; ok {
		return &v, nil
	}
	return nil, nil
}

// DirEntries lists the directory at path.
func (r *Root) DirEntries(ctx context.Context, path string) (map[string]DirEntry, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return nil, err
	}
	if n.Kind() != dag.Dir {
		return nil, errors.WithStack(&NotDirectoryError{Path: fspath.Canonicalize(path)})
	}
	entries, err := n.Entries(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]DirEntry, len(entries))
	for name, e := range entries {
		result[name] = DirEntry{Name: name, ID: e.ID, Kind: e.Kind}
	}
	return result, nil
}

// NodeCreatedRev returns the revision the node-revision at path was committed in, or InvalidRevnum
// if it is mutable.
func (r *Root) NodeCreatedRev(ctx context.Context, path string) (Revnum, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return InvalidRevnum, err
	}
	return n.Revision(), nil
}

// NodeCreatedPath returns the path the node-revision at path was created at.
func (r *Root) NodeCreatedPath(ctx context.Context, path string) (string, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return "", err
	}
	return n.CreatedPath(), nil
}

// FileContents returns the text of the file at path.
func (r *Root) FileContents(ctx context.Context, path string) ([]byte, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return nil, err
	}
	if n.Kind() != dag.File {
		return nil, errors.WithStack(&NotFileError{Path: fspath.Canonicalize(path)})
	}
	return n.Contents(ctx)
}

// FileLength returns the length of the file at path.
func (r *Root) FileLength(ctx context.Context, path string) (int64, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return 0, err
	}
	if n.Kind() != dag.File {
		return 0, errors.WithStack(&NotFileError{Path: fspath.Canonicalize(path)})
	}
	return n.Length(ctx)
}

// FileChecksum returns the checksum of the file at path.
func (r *Root) FileChecksum(ctx context.Context, path string) (string, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return "", err
	}
	if n.Kind() != dag.File {
		return "", errors.WithStack(&NotFileError{Path: fspath.Canonicalize(path)})
	}
	return n.Checksum(ctx)
}

// Checksum returns the checksum FileChecksum reports for data.
func Checksum(data []byte) string {
	return dag.Checksum(data)
}
