// Package fsfs is a versioned tree filesystem: a path-addressed, copy-on-write directory tree over a
// DAG of immutable revisions and mutable transactions.
//
// Readers open a Root for a revision and walk it by path.  Writers begin a Txn against a revision,
// edit its Root (every edit clones the nodes it touches into the transaction) and commit it.  The
// commit merges in whatever was committed since the transaction's base and writes the next
// revision.
package fsfs

import (
	"context"
	"sync"

	"github.com/dgraph-io/ristretto"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/dagcache"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fsconfig"
	"github.com/pachyderm/fsfs/src/internal/locks"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	"github.com/pachyderm/fsfs/src/internal/storage/kv"
)

// Revnum is a revision number.
type Revnum = nodeid.Revnum

// InvalidRevnum marks "no revision".
const InvalidRevnum = nodeid.InvalidRevnum

// Formats a filesystem can be created with.
const (
	FormatGlobalIDs   = dag.FormatGlobalIDs
	FormatMergeinfo   = dag.FormatMergeinfo
	FormatRevLocalIDs = dag.FormatRevLocalIDs
)

// FS is an open filesystem.  It is safe for concurrent use; the transactions and roots it hands out
// are not.
type FS struct {
	repo   *dag.Repo
	config *fsconfig.Configuration

	nodeCache *dagcache.Cache
	locks     *locks.Table

	mergeinfoExists *lru.Cache[string, bool]
	mergeinfoValues *ristretto.Cache
	origins         *lru.Cache[string, Revnum]

	shared *sharedState

	accessMu sync.Mutex
	access   *locks.Access

	// afterMerge, if set, runs between the merge and the commit attempt of each commit loop
	// iteration.
	afterMerge func(ctx context.Context)
}

// sharedState is the per-handle state every transaction of the filesystem sees: the list of open
// transactions with their node caches and the representation-write flags.
type sharedState struct {
	mu     sync.Mutex
	txns   map[nodeid.TxnID]*sharedTxn
	closed bool
}

type sharedTxn struct {
	cache        *dagcache.TxnCache
	beingWritten bool
}

// Create makes a new filesystem in store.
func Create(ctx context.Context, store kv.Store, config *fsconfig.Configuration) (_ *FS, retErr error) {
	defer log.Span(ctx, "fsfs.Create")(log.Errorp(&retErr))
	if config == nil {
		config = fsconfig.NewConfiguration()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	repo, err := dag.Create(ctx, store, repoOptions(config))
	if err != nil {
		return nil, err
	}
	return newFS(ctx, repo, config)
}

// Open opens the filesystem in store.
func Open(ctx context.Context, store kv.Store, config *fsconfig.Configuration) (_ *FS, retErr error) {
	defer log.Span(ctx, "fsfs.Open")(log.Errorp(&retErr))
	if config == nil {
		config = fsconfig.NewConfiguration()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	repo, err := dag.Open(ctx, store, repoOptions(config))
	if err != nil {
		return nil, err
	}
	return newFS(ctx, repo, config)
}

func repoOptions(config *fsconfig.Configuration) dag.Options {
	return dag.Options{
		Format:        config.Format,
		LockDir:       config.LockDir,
		NodeCacheSize: config.Cache.NodeCacheSize,
		DirCacheSize:  config.Cache.DirCacheSize,
	}
}

func newFS(ctx context.Context, repo *dag.Repo, config *fsconfig.Configuration) (*FS, error) {
	if err := log.SetLevel(config.LogLevel); err != nil {
		return nil, errors.Wrapf(err, "log level %q", config.LogLevel)
	}
	fs := &FS{
		repo:   repo,
		config: config,
		locks:  locks.NewTable(repo.Store()),
		shared: &sharedState{txns: make(map[nodeid.TxnID]*sharedTxn)},
	}
	var err error
	fs.nodeCache, err = dagcache.New(dagcache.Config{
		Disabled: config.Cache.DisableNodeCache,
		Buckets:  config.Cache.NodeCacheBuckets,
		Size:     config.Cache.NodeCacheSize,
	})
	if err != nil {
		return nil, err
	}
	if fs.mergeinfoExists, err = lru.New[string, bool](max(config.Cache.MergeinfoExistenceCacheSize, 1)); err != nil {
		return nil, errors.EnsureStack(err)
	}
	if fs.origins, err = lru.New[string, Revnum](max(config.Cache.NodeOriginCacheSize, 1)); err != nil {
		return nil, errors.EnsureStack(err)
	}
	maxCost := max(int64(config.Cache.MergeinfoCacheBytes), 1<<10)
	fs.mergeinfoValues, err = ristretto.NewCache(&ristretto.Config{
		// Ten counters per expected item, assuming items of about 100 bytes.
		NumCounters: max(maxCost/10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	log.Debug(ctx, "opened filesystem", zap.String("uuid", repo.UUID()), zap.Int("format", repo.Format()))
	return fs, nil
}

// Close releases the filesystem's caches and forgets its open transactions.  Transactions stay in
// the store and can be reopened through another handle.
func (fs *FS) Close() error {
	fs.shared.mu.Lock()
	defer fs.shared.mu.Unlock()
	if fs.shared.closed {
		return nil
	}
	fs.shared.closed = true
	for id, st := range fs.shared.txns {
		st.cache.Purge()
		delete(fs.shared.txns, id)
	}
	fs.mergeinfoValues.Close()
	fs.mergeinfoExists.Purge()
	fs.origins.Purge()
	return nil
}

// sharedTxn returns the shared state of txn, creating it on first use.
func (fs *FS) sharedTxn(txn nodeid.TxnID) (*sharedTxn, error) {
	fs.shared.mu.Lock()
	defer fs.shared.mu.Unlock()
	if fs.shared.closed {
		return nil, errors.New("filesystem is closed")
	}
	if st, ok := fs.shared.txns[txn]; ok {
		return st, nil
	}
	cache, err := dagcache.NewTxnCache(fs.config.Cache.TxnNodeCacheSize, fs.config.Cache.DisableNodeCache)
	if err != nil {
		return nil, err
	}
	st := &sharedTxn{cache: cache}
	fs.shared.txns[txn] = st
	return st, nil
}

func (fs *FS) forgetTxn(txn nodeid.TxnID) {
	fs.shared.mu.Lock()
	defer fs.shared.mu.Unlock()
	if st, ok := fs.shared.txns[txn]; ok {
		st.cache.Purge()
		delete(fs.shared.txns, txn)
	}
}

// beginWrite marks a representation of txn as being written.  At most one write may be in
// progress per transaction.
func (fs *FS) beginWrite(txn nodeid.TxnID) (func(), error) {
	st, err := fs.sharedTxn(txn)
	if err != nil {
		return nil, err
	}
	fs.shared.mu.Lock()
	defer fs.shared.mu.Unlock()
	if st.beingWritten {
		return nil, errors.WithStack(&TxnBusyError{Txn: string(txn)})
	}
	st.beingWritten = true
	var once sync.Once
	return func() {
		once.Do(func() {
			fs.shared.mu.Lock()
			st.beingWritten = false
			fs.shared.mu.Unlock()
		})
	}, nil
}

// Youngest returns the youngest revision.
func (fs *FS) Youngest(ctx context.Context) (Revnum, error) {
	return fs.repo.Youngest(ctx)
}

// UUID returns the filesystem's unique id.
func (fs *FS) UUID() string {
	return fs.repo.UUID()
}

// Format returns the filesystem's format.
func (fs *FS) Format() int {
	return fs.repo.Format()
}

// RevisionRoot opens the root of rev.
func (fs *FS) RevisionRoot(ctx context.Context, rev Revnum) (*Root, error) {
	node, err := fs.repo.RevisionRoot(ctx, rev)
	if err != nil {
		return nil, err
	}
	return &Root{fs: fs, rev: rev, rootNode: node}, nil
}

// RevisionProp returns a property of rev, or nil.
func (fs *FS) RevisionProp(ctx context.Context, rev Revnum, name string) (*string, error) {
	props, err := fs.repo.RevisionProplist(ctx, rev)
	if err != nil {
		return nil, err
	}
	if v, ok := props[name]; ok {
		return &v, nil
	}
	return nil, nil
}

// RevisionProps returns the properties of rev.
func (fs *FS) RevisionProps(ctx context.Context, rev Revnum) (map[string]string, error) {
	return fs.repo.RevisionProplist(ctx, rev)
}

// ChangeRevisionProp sets a property of rev.  A nil value deletes it.
func (fs *FS) ChangeRevisionProp(ctx context.Context, rev Revnum, name string, value *string) error {
	return fs.repo.ChangeRevisionProp(ctx, rev, name, value)
}

// SetAccess sets the identity the filesystem operates as: the username locks are taken for and the
// lock tokens presented when a transaction touches locked paths.
func (fs *FS) SetAccess(username string, tokens ...string) {
	fs.accessMu.Lock()
	defer fs.accessMu.Unlock()
	if username == "" && len(tokens) == 0 {
		fs.access = nil
		return
	}
	fs.access = locks.NewAccess(username, tokens...)
}

func (fs *FS) currentAccess() *locks.Access {
	fs.accessMu.Lock()
	defer fs.accessMu.Unlock()
	return fs.access
}
