// Package dagcache caches the nodes found by path lookups.
//
// Nodes of revision roots are cached in two tiers keyed by (revision, path).  The first tier is a
// small array of hash buckets, one entry per bucket, cleared wholesale once it has seen more
// insertions than it has buckets.  The second tier is a larger LRU.  Nodes handed out by the first
// tier are leased: a bulk clear is deferred while any lease is outstanding.
//
// Nodes of a transaction root are kept in a separate LRU keyed by path, which must be invalidated
// whenever the transaction changes a path.
package dagcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"
	"go.uber.org/atomic"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
)

// Key identifies a node by the revision and path it was found at.
type Key struct {
	Rev  nodeid.Revnum
	Path string
}

// Config sizes a Cache.
type Config struct {
	// Disabled turns every lookup into a miss.
	Disabled bool
	// Buckets is the number of first tier buckets.  Must be a power of two.
	Buckets int
	// Size is the capacity of the second tier.
	Size int
}

// Stats counts cache activity.
type Stats struct {
	Hits       int64
	Misses     int64
	Insertions int64
	Clears     int64
}

type bucket struct {
	key   Key
	node  *dag.Node
	valid bool
}

// Cache is the node cache of revision roots.  It is safe for concurrent use.
type Cache struct {
	disabled bool

	mu         sync.Mutex
	buckets    []bucket
	mask       uint64
	lastHit    int
	insertions int
	leases     atomic.Int64

	tier2 *lru.Cache[Key, *dag.Node]

	hits, misses, inserts, clears atomic.Int64
}

// New returns an empty Cache.
func New(config Config) (*Cache, error) {
	if config.Buckets <= 0 || config.Buckets&(config.Buckets-1) != 0 {
		return nil, errors.Errorf("bucket count must be a positive power of two, got %d", config.Buckets)
	}
	tier2, err := lru.New[Key, *dag.Node](max(config.Size, 1))
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return &Cache{
		disabled: config.Disabled,
		buckets:  make([]bucket, config.Buckets),
		mask:     uint64(config.Buckets - 1),
		tier2:    tier2,
	}, nil
}

func (c *Cache) bucketIndex(k Key) int {
	h := xxh3.HashString(k.Path) ^ (uint64(k.Rev) * 0x9e3779b97f4a7c15)
	return int(h & c.mask)
}

// Lease guards a node handed out by the cache.  Release must be called once the node is no longer
// needed; until then the first tier will not be cleared.
type Lease struct {
	node    *dag.Node
	cache   *Cache
	release sync.Once
}

// Node returns the leased node.
func (l *Lease) Node() *dag.Node {
	return l.node
}

// Release ends the lease.  It may be called more than once.
func (l *Lease) Release() {
	l.release.Do(func() {
		if l.cache != nil {
			l.cache.leases.Dec()
		}
	})
}

func (c *Cache) lease(n *dag.Node) *Lease {
	c.leases.Inc()
	return &Lease{node: n, cache: c}
}

// Get looks up the node at (rev, path).  The returned lease must be released.
func (c *Cache) Get(rev nodeid.Revnum, path string) (*Lease, bool) {
	if c.disabled {
		c.misses.Inc()
		lookupMetric.WithLabelValues("1", "disabled").Inc()
		return nil, false
	}
	k := Key{Rev: rev, Path: path}
	c.mu.Lock()
	if b := &c.buckets[c.lastHit]; b.valid && b.key == k {
		l := c.lease(b.node)
		c.mu.Unlock()
		c.hits.Inc()
		lookupMetric.WithLabelValues("1", "hit").Inc()
		return l, true
	}
	i := c.bucketIndex(k)
	if b := &c.buckets[i]; b.valid && b.key == k {
		c.lastHit = i
		l := c.lease(b.node)
		c.mu.Unlock()
		c.hits.Inc()
		lookupMetric.WithLabelValues("1", "hit").Inc()
		return l, true
	}
	c.mu.Unlock()
	lookupMetric.WithLabelValues("1", "miss").Inc()
	if n, ok := c.tier2.Get(k); ok {
		c.hits.Inc()
		lookupMetric.WithLabelValues("2", "hit").Inc()
		c.setTier1(k, n)
		return c.lease(n), true
	}
	c.misses.Inc()
	lookupMetric.WithLabelValues("2", "miss").Inc()
	return nil, false
}

// Set caches n as the node at (rev, path).  Only nodes of revision roots may be cached.
func (c *Cache) Set(rev nodeid.Revnum, path string, n *dag.Node) {
	if c.disabled || n.IsMutable() {
		return
	}
	k := Key{Rev: rev, Path: path}
	c.tier2.Add(k, n)
	c.setTier1(k, n)
}

func (c *Cache) setTier1(k Key, n *dag.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insertions > len(c.buckets) && c.leases.Load() == 0 {
		clear(c.buckets)
		c.insertions = 0
		c.lastHit = 0
		c.clears.Inc()
		clearMetric.Inc()
	}
	i := c.bucketIndex(k)
	c.buckets[i] = bucket{key: k, node: n, valid: true}
	c.lastHit = i
	c.insertions++
	c.inserts.Inc()
}

// ActiveLeases returns the number of unreleased leases.
func (c *Cache) ActiveLeases() int64 {
	return c.leases.Load()
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Insertions: c.inserts.Load(),
		Clears:     c.clears.Load(),
	}
}
