package dagcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// TxnCache caches the nodes of one transaction root by path.
type TxnCache struct {
	disabled bool
	nodes    *lru.Cache[string, *dag.Node]
}

// NewTxnCache returns an empty TxnCache holding up to size nodes.
func NewTxnCache(size int, disabled bool) (*TxnCache, error) {
	nodes, err := lru.New[string, *dag.Node](max(size, 1))
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return &TxnCache{disabled: disabled, nodes: nodes}, nil
}

// Get returns the node cached at path.
func (c *TxnCache) Get(path string) (*dag.Node, bool) {
	if c.disabled {
		lookupMetric.WithLabelValues("txn", "disabled").Inc()
		return nil, false
	}
	n, ok := c.nodes.Get(path)
	if ok {
		lookupMetric.WithLabelValues("txn", "hit").Inc()
	} else {
		lookupMetric.WithLabelValues("txn", "miss").Inc()
	}
	return n, ok
}

// Set caches n at path.
func (c *TxnCache) Set(path string, n *dag.Node) {
	if c.disabled {
		return
	}
	c.nodes.Add(path, n)
}

// Invalidate drops path and every path below it.
func (c *TxnCache) Invalidate(path string) {
	for _, k := range c.nodes.Keys() {
		if fspath.IsAncestor(path, k) {
			if c.nodes.Remove(k) {
				invalidateMetric.Inc()
			}
		}
	}
}

// Purge drops every entry.
func (c *TxnCache) Purge() {
	c.nodes.Purge()
}

// Len returns the number of cached nodes.
func (c *TxnCache) Len() int {
	return c.nodes.Len()
}
