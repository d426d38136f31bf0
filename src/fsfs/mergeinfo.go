package fsfs

import (
	"context"
	"fmt"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/log"
	"github.com/pachyderm/fsfs/src/internal/mergeinfo"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// Mergeinfo types, re-exported for callers of GetMergeinfo.  Values returned by GetMergeinfo may
// be shared with the filesystem's cache and must not be modified.
type (
	Mergeinfo   = mergeinfo.Mergeinfo
	Catalog     = mergeinfo.Catalog
	InheritMode = mergeinfo.InheritMode
)

const (
	MergeinfoExplicit        = mergeinfo.Explicit
	MergeinfoInherited       = mergeinfo.Inherited
	MergeinfoNearestAncestor = mergeinfo.NearestAncestor
)

// GetMergeinfo returns the mergeinfo of each of paths, found as inherit says.  Paths without
// mergeinfo are left out of the catalog.  With adjust, mergeinfo inherited from an ancestor loses
// its non-inheritable ranges and has its merge sources extended by the path below the ancestor.
// With includeDescendants the explicit mergeinfo of every node below each path is added too.
func (r *Root) GetMergeinfo(ctx context.Context, paths []string, inherit InheritMode, includeDescendants, adjust bool) (_ Catalog, retErr error) {
	defer log.Span(ctx, "fsfs.GetMergeinfo")(log.Errorp(&retErr))
	if err := r.requireRevisionRoot(); err != nil {
		return nil, err
	}
	if !r.fs.repo.SupportsMergeinfo() {
		return nil, errors.WithStack(&FormatError{Feature: "querying mergeinfo", Need: dag.FormatMergeinfo, Have: r.fs.repo.Format()})
	}
	catalog := make(Catalog)
	for _, path := range paths {
		path = fspath.Canonicalize(path)
		mi, err := r.cachedMergeinfo(ctx, path, inherit, adjust)
		if err != nil {
			return nil, err
		}
		if mi != nil {
			catalog[path] = mi
		}
		if includeDescendants {
			if err := r.addDescendantMergeinfo(ctx, catalog, path); err != nil {
				return nil, err
			}
		}
	}
	return catalog, nil
}

// cachedMergeinfo is mergeinfoForPath behind the filesystem's mergeinfo caches.  The existence
// cache is consulted first, so paths without mergeinfo never touch the value cache.
func (r *Root) cachedMergeinfo(ctx context.Context, path string, inherit InheritMode, adjust bool) (Mergeinfo, error) {
	key := fmt.Sprintf("%d:%d:%t:%s", r.rev, inherit, adjust, path)
	if exists, ok := r.fs.mergeinfoExists.Get(key); ok {
		mergeinfoCacheMetric.WithLabelValues("existence", "hit").Inc()
		if !exists {
			return nil, nil
		}
		if v, ok := r.fs.mergeinfoValues.Get(key); ok {
			mergeinfoCacheMetric.WithLabelValues("value", "hit").Inc()
			return v.(Mergeinfo), nil
		}
		mergeinfoCacheMetric.WithLabelValues("value", "miss").Inc()
	} else {
		mergeinfoCacheMetric.WithLabelValues("existence", "miss").Inc()
	}
	mi, err := r.mergeinfoForPath(ctx, path, inherit, adjust)
	if err != nil {
		return nil, err
	}
	r.fs.mergeinfoExists.Add(key, mi != nil)
	if mi != nil {
		r.fs.mergeinfoValues.Set(key, mi, mi.Size())
		r.fs.mergeinfoValues.Wait()
	}
	return mi, nil
}

// mergeinfoForPath finds the mergeinfo of path, or nil.  Unparseable mergeinfo counts as none.
func (r *Root) mergeinfoForPath(ctx context.Context, path string, inherit InheritMode, adjust bool) (Mergeinfo, error) {
	pp, err := r.openPath(ctx, path, 0, false)
	if err != nil {
		return nil, err
	}
	nearest := pp
	if inherit == mergeinfo.NearestAncestor {
		if pp.parent == nil {
			return nil, nil
		}
		nearest = pp.parent
	}
	for {
		has, err := nearest.node.HasMergeinfo(ctx)
		if err != nil {
			return nil, err
		}
		if has {
			break
		}
		if inherit == mergeinfo.Explicit {
			return nil, nil
		}
		if nearest = nearest.parent; nearest == nil {
			return nil, nil
		}
	}
	mi, err := parseNodeMergeinfo(ctx, nearest.node, nearest.path())
	if err != nil || mi == nil {
		return nil, err
	}
	if adjust && nearest != pp {
		rel, _ := fspath.SkipAncestor(nearest.path(), path)
		mi = mi.Inheritable().AppendToMergedFroms(rel)
	}
	return mi, nil
}

// parseNodeMergeinfo parses the mergeinfo property of a node flagged as having mergeinfo.
func parseNodeMergeinfo(ctx context.Context, n *dag.Node, path string) (Mergeinfo, error) {
	props, err := n.Proplist(ctx)
	if err != nil {
		return nil, err
	}
	value, ok := props[mergeinfo.PropName]
	if !ok {
		return nil, fserr.Corrupt("node-revision %s at '%s' claims to have mergeinfo but doesn't", n.ID(), path)
	}
	mi, err := mergeinfo.Parse(value)
	if err != nil {
		if mergeinfo.IsParseError(err) {
			log.Debug(ctx, "ignoring unparseable mergeinfo", log.Path(path))
			return nil, nil
		}
		return nil, err
	}
	return mi, nil
}

// addDescendantMergeinfo adds the explicit mergeinfo of every node below path to catalog.  Only
// directories flagged as having descendants with mergeinfo are entered.
func (r *Root) addDescendantMergeinfo(ctx context.Context, catalog Catalog, path string) error {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return err
	}
	has, err := n.HasDescendantsWithMergeinfo(ctx)
	if err != nil || !has {
		return err
	}
	return r.crawlMergeinfo(ctx, catalog, path, n)
}

func (r *Root) crawlMergeinfo(ctx context.Context, catalog Catalog, path string, dir *dag.Node) error {
	entries, err := dir.Entries(ctx)
	if err != nil {
		return err
	}
	for name := range entries {
		kidPath := fspath.Join(path, name)
		kid, err := r.getDAG(ctx, kidPath)
		if err != nil {
			return err
		}
		has, err := kid.HasMergeinfo(ctx)
		if err != nil {
			return err
		}
		if has {
			mi, err := parseNodeMergeinfo(ctx, kid, kidPath)
			if err != nil {
				return err
			}
			if mi != nil {
				catalog[kidPath] = mi
			}
		}
		goDown, err := kid.HasDescendantsWithMergeinfo(ctx)
		if err != nil {
			return err
		}
		if goDown {
			if err := r.crawlMergeinfo(ctx, catalog, kidPath, kid); err != nil {
				return err
			}
		}
	}
	return nil
}
