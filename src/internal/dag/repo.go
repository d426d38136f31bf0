package dag

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/codec"
	"github.com/pachyderm/fsfs/src/internal/dlock"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
	"github.com/pachyderm/fsfs/src/internal/storage/kv"
)

// Filesystem formats.
const (
	// FormatGlobalIDs numbers node-ids and copy-ids with filesystem-wide counters.
	FormatGlobalIDs = 1
	// FormatMergeinfo adds mergeinfo tracking.
	FormatMergeinfo = 2
	// FormatRevLocalIDs embeds the origin revision in node-ids and copy-ids.
	FormatRevLocalIDs = 3

	LatestFormat = FormatRevLocalIDs
)

// PropDate is the revision property holding the commit time.
const PropDate = "svn:date"

// Options configures a Repo.
type Options struct {
	// Format is used by Create.  Zero means LatestFormat.
	Format int
	// LockDir, if set, holds the lock files that exclude other processes.
	LockDir       string
	NodeCacheSize int
	DirCacheSize  int
}

func (o Options) withDefaults() Options {
	if o.Format == 0 {
		o.Format = LatestFormat
	}
	if o.NodeCacheSize <= 0 {
		o.NodeCacheSize = 16384
	}
	if o.DirCacheSize <= 0 {
		o.DirCacheSize = 4096
	}
	return o
}

// RevRecord is the stored record of a revision.
type RevRecord struct {
	Root    nodeid.ID `cbor:"root"`
	Changes []*Change `cbor:"changes"`
}

type nextIDs struct {
	NodeID uint64 `cbor:"node"`
	CopyID uint64 `cbor:"copy"`
}

// Repo is the node-revision store of one filesystem.
type Repo struct {
	store  kv.Store
	format int
	uuid   string

	writeLock dlock.DLock
	txnLock   dlock.DLock

	// mu serializes read-modify-write of transaction records.
	mu sync.Mutex

	nodeCache *lru.Cache[nodeid.ID, *NodeRev]
	dirCache  *lru.Cache[RepKey, map[string]DirEntry]
	revCache  *lru.Cache[nodeid.Revnum, *RevRecord]
}

func newRepo(store kv.Store, format int, id string, opts Options) (*Repo, error) {
	r := &Repo{store: store, format: format, uuid: id}
	var writeFile, txnFile string
	if opts.LockDir != "" {
		writeFile = filepath.Join(opts.LockDir, "write-lock")
		txnFile = filepath.Join(opts.LockDir, "txn-current-lock")
	}
	r.writeLock = dlock.NewDLock(id+"/write", writeFile)
	r.txnLock = dlock.NewDLock(id+"/txn-current", txnFile)
	var err error
	if r.nodeCache, err = lru.New[nodeid.ID, *NodeRev](opts.NodeCacheSize); err != nil {
		return nil, errors.EnsureStack(err)
	}
	if r.dirCache, err = lru.New[RepKey, map[string]DirEntry](opts.DirCacheSize); err != nil {
		return nil, errors.EnsureStack(err)
	}
	if r.revCache, err = lru.New[nodeid.Revnum, *RevRecord](1024); err != nil {
		return nil, errors.EnsureStack(err)
	}
	return r, nil
}

// Create initializes a new filesystem in store, holding only the empty revision 0.
func Create(ctx context.Context, store kv.Store, opts Options) (_ *Repo, retErr error) {
	opts = opts.withDefaults()
	defer log.Span(ctx, "dag.Create", zap.Int("format", opts.Format))(log.Errorp(&retErr))
	if opts.Format < FormatGlobalIDs || opts.Format > LatestFormat {
		return nil, errors.Errorf("unknown filesystem format %d", opts.Format)
	}
	exists, err := store.Exists(ctx, []byte(formatKey))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Errorf("a filesystem already exists in this store")
	}
	r, err := newRepo(store, opts.Format, uuid.NewString(), opts)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, []byte(uuidKey), []byte(r.uuid)); err != nil {
		return nil, err
	}
	if r.usesGlobalIDs() {
		if err := r.putRecord(ctx, []byte(nextIDsKey), &nextIDs{NodeID: 1, CopyID: 1}); err != nil {
			return nil, err
		}
	}
	root := &NodeRev{
		ID:           nodeid.NewRevisionID("0", nodeid.NoCopyID, 0, 1),
		Kind:         Dir,
		CopyFromRev:  nodeid.InvalidRevnum,
		CopyRootRev:  0,
		CopyRootPath: fspath.Root,
		CreatedPath:  fspath.Root,
	}
	if err := r.putRecord(ctx, nodeKey(root.ID), root); err != nil {
		return nil, err
	}
	if err := r.putRecord(ctx, revKey(0, "info"), &RevRecord{Root: root.ID}); err != nil {
		return nil, err
	}
	props := map[string]string{PropDate: time.Now().UTC().Format(time.RFC3339Nano)}
	if err := r.putRecord(ctx, revKey(0, "props"), props); err != nil {
		return nil, err
	}
	if err := r.putYoungest(ctx, 0); err != nil {
		return nil, err
	}
	// The format record marks the filesystem as complete.
	if err := store.Put(ctx, []byte(formatKey), []byte(strconv.Itoa(r.format))); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens the filesystem in store.
func Open(ctx context.Context, store kv.Store, opts Options) (*Repo, error) {
	opts = opts.withDefaults()
	formatBytes, err := kv.GetBytes(ctx, store, []byte(formatKey))
	if err != nil {
		if kv.IsNotExist(err) {
			return nil, fserr.Corrupt("no filesystem in this store")
		}
		return nil, err
	}
	format, err := strconv.Atoi(string(formatBytes))
	if err != nil || format < FormatGlobalIDs || format > LatestFormat {
		return nil, fserr.Corrupt("unknown filesystem format %q", formatBytes)
	}
	id, err := kv.GetBytes(ctx, store, []byte(uuidKey))
	if err != nil {
		return nil, err
	}
	return newRepo(store, format, string(id), opts)
}

// Format returns the filesystem format.
func (r *Repo) Format() int { return r.format }

// UUID returns the filesystem's unique id.
func (r *Repo) UUID() string { return r.uuid }

// SupportsMergeinfo reports whether the format tracks mergeinfo.
func (r *Repo) SupportsMergeinfo() bool { return r.format >= FormatMergeinfo }

func (r *Repo) usesGlobalIDs() bool { return r.format < FormatRevLocalIDs }

// Store returns the underlying store.
func (r *Repo) Store() kv.Store { return r.store }

func (r *Repo) putRecord(ctx context.Context, key []byte, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, key, data)
}

func (r *Repo) getRecord(ctx context.Context, key []byte, v any) error {
	return r.store.Get(ctx, key, func(data []byte) error {
		return codec.Unmarshal(data, v)
	})
}

func (r *Repo) putYoungest(ctx context.Context, rev nodeid.Revnum) error {
	return r.store.Put(ctx, []byte(youngestKey), []byte(rev.String()))
}

// Youngest returns the youngest committed revision.
func (r *Repo) Youngest(ctx context.Context) (nodeid.Revnum, error) {
	data, err := kv.GetBytes(ctx, r.store, []byte(youngestKey))
	if err != nil {
		return nodeid.InvalidRevnum, err
	}
	rev, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return nodeid.InvalidRevnum, fserr.Corrupt("malformed youngest revision %q", data)
	}
	return nodeid.Revnum(rev), nil
}

func (r *Repo) checkRevision(ctx context.Context, rev nodeid.Revnum) error {
	youngest, err := r.Youngest(ctx)
	if err != nil {
		return err
	}
	if rev < 0 || rev > youngest {
		return errors.WithStack(&fserr.NoSuchRevisionError{Rev: int64(rev)})
	}
	return nil
}

func (r *Repo) revRecord(ctx context.Context, rev nodeid.Revnum) (*RevRecord, error) {
	if rec, ok := r.revCache.Get(rev); ok {
		return rec, nil
	}
	if err := r.checkRevision(ctx, rev); err != nil {
		return nil, err
	}
	rec := &RevRecord{}
	if err := r.getRecord(ctx, revKey(rev, "info"), rec); err != nil {
		if kv.IsNotExist(err) {
			return nil, fserr.Corrupt("missing record of revision %d", rev)
		}
		return nil, err
	}
	r.revCache.Add(rev, rec)
	return rec, nil
}

// RevisionRootID returns the id of the root directory of rev.
func (r *Repo) RevisionRootID(ctx context.Context, rev nodeid.Revnum) (nodeid.ID, error) {
	rec, err := r.revRecord(ctx, rev)
	if err != nil {
		return nodeid.ID{}, err
	}
	return rec.Root, nil
}

// RevisionRoot returns the root directory of rev.
func (r *Repo) RevisionRoot(ctx context.Context, rev nodeid.Revnum) (*Node, error) {
	id, err := r.RevisionRootID(ctx, rev)
	if err != nil {
		return nil, err
	}
	return r.GetNode(ctx, id)
}

// RevisionChanges returns the folded changes committed in rev, sorted by path.
func (r *Repo) RevisionChanges(ctx context.Context, rev nodeid.Revnum) ([]*Change, error) {
	rec, err := r.revRecord(ctx, rev)
	if err != nil {
		return nil, err
	}
	result := make([]*Change, len(rec.Changes))
	for i, c := range rec.Changes {
		cc := *c
		result[i] = &cc
	}
	return result, nil
}

// RevisionProplist returns the properties of rev.
func (r *Repo) RevisionProplist(ctx context.Context, rev nodeid.Revnum) (map[string]string, error) {
	if err := r.checkRevision(ctx, rev); err != nil {
		return nil, err
	}
	props := make(map[string]string)
	if err := r.getRecord(ctx, revKey(rev, "props"), &props); err != nil && !kv.IsNotExist(err) {
		return nil, err
	}
	return props, nil
}

// ChangeRevisionProp sets (or, with a nil value, deletes) a property of rev.
func (r *Repo) ChangeRevisionProp(ctx context.Context, rev nodeid.Revnum, name string, value *string) (retErr error) {
	defer log.Span(ctx, "dag.ChangeRevisionProp", log.Revision("rev", int64(rev)), zap.String("name", name))(log.Errorp(&retErr))
	ctx, err := r.writeLock.Lock(ctx)
	if err != nil {
		return err
	}
	defer func() {
		retErr = errors.Join(retErr, r.writeLock.Unlock(ctx))
	}()
	props, err := r.RevisionProplist(ctx, rev)
	if err != nil {
		return err
	}
	if value == nil {
		delete(props, name)
	} else {
		props[name] = *value
	}
	return r.putRecord(ctx, revKey(rev, "props"), props)
}

// GetNode returns a handle to the node-revision id.
func (r *Repo) GetNode(ctx context.Context, id nodeid.ID) (*Node, error) {
	nr, err := r.readNodeRev(ctx, id)
	if err != nil {
		return nil, err
	}
	n := &Node{repo: r, id: id, kind: nr.Kind, createdPath: nr.CreatedPath}
	if !id.IsMutable() {
		n.noderev = nr
	}
	return n, nil
}

// readNodeRev returns the stored record of id.  Records of committed node-revisions are shared
// and must not be modified.
func (r *Repo) readNodeRev(ctx context.Context, id nodeid.ID) (*NodeRev, error) {
	if !id.IsMutable() {
		if nr, ok := r.nodeCache.Get(id); ok {
			return nr, nil
		}
	}
	nr := &NodeRev{}
	if err := r.getRecord(ctx, nodeKey(id), nr); err != nil {
		if kv.IsNotExist(err) {
			if id.IsMutable() {
				return nil, fserr.Corrupt("missing node-revision %s in transaction %s", id, id.Txn)
			}
			return nil, fserr.Corrupt("missing node-revision %s", id)
		}
		return nil, err
	}
	if !id.IsMutable() {
		r.nodeCache.Add(id, nr)
	}
	return nr, nil
}

func (r *Repo) writeNodeRev(ctx context.Context, nr *NodeRev) error {
	if !nr.ID.IsMutable() {
		return errors.WithStack(&fserr.NotMutableError{Path: nr.CreatedPath})
	}
	return r.putRecord(ctx, nodeKey(nr.ID), nr)
}

// NodeOrigin returns the stored id of the first node-revision of nodeID, if one was recorded.
func (r *Repo) NodeOrigin(ctx context.Context, nodeID string) (nodeid.ID, bool, error) {
	var id nodeid.ID
	if err := r.getRecord(ctx, originKey(nodeID), &id); err != nil {
		if kv.IsNotExist(err) {
			return nodeid.ID{}, false, nil
		}
		return nodeid.ID{}, false, err
	}
	return id, true, nil
}

// SetNodeOrigin records the first node-revision of nodeID.  An existing record must agree.
func (r *Repo) SetNodeOrigin(ctx context.Context, nodeID string, origin nodeid.ID) error {
	existing, ok, err := r.NodeOrigin(ctx, nodeID)
	if err != nil {
		return err
	}
	if ok {
		if !existing.Equal(origin) {
			return fserr.Corrupt("node origin for '%s' exists with a different value (%s) than what we were about to store (%s)", nodeID, existing, origin)
		}
		return nil
	}
	return r.putRecord(ctx, originKey(nodeID), origin)
}
