package fsfs

import (
	"context"
	"strings"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

type openPathFlags int

const (
	// openLastOptional lets the final component be missing: the returned link has a nil node.
	openLastOptional openPathFlags = 1 << iota
	// openNodeOnly returns only the final node, with no parent chain.  The lookup may start at a
	// cached parent directory.
	openNodeOnly
	// openAllowNull returns a nil parentPath instead of a not-found error.
	openAllowNull
)

type copyInheritance int

const (
	inheritUnknown copyInheritance = iota
	// inheritSelf keeps the node's own copy-id.
	inheritSelf
	// inheritParent takes the parent's copy-id.
	inheritParent
	// inheritNew reserves a new copy-id.
	inheritNew
)

// parentPath is one link of a resolved path: a node, the entry it was reached through and the link
// of its parent directory.
type parentPath struct {
	node    *dag.Node
	entry   string
	parent  *parentPath
	inherit copyInheritance
	// copySrcPath is the created path of an unedited nested copy, for inheritNew.
	copySrcPath string
}

// path returns the path the link was reached through.
func (pp *parentPath) path() string {
	var entries []string
	for link := pp; link != nil && link.parent != nil; link = link.parent {
		entries = append(entries, link.entry)
	}
	if len(entries) == 0 {
		return fspath.Root
	}
	var sb strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(entries[i])
	}
	return sb.String()
}

// openPath resolves path in r.  With txnPath the copy inheritance of every link is computed for a
// later makePathMutable.
func (r *Root) openPath(ctx context.Context, path string, flags openPathFlags, txnPath bool) (*parentPath, error) {
	path = fspath.Canonicalize(path)
	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	here, err := r.rootDAG(ctx)
	if err != nil {
		return nil, err
	}
	rest := fspath.Components(path)
	pathSoFar := fspath.Root
	if flags&openNodeOnly != 0 {
		if dir := fspath.Dir(path); dir != fspath.Root {
			cached, release := r.cacheGet(dir)
			releases = append(releases, release)
			if cached != nil {
				here = cached
				pathSoFar = dir
				rest = rest[len(rest)-1:]
			}
		}
	}
	pp := &parentPath{node: here, inherit: inheritSelf}

	for i, entry := range rest {
		last := i == len(rest)-1
		pathSoFar = fspath.Join(pathSoFar, entry)
		child, release := r.cacheGet(pathSoFar)
		releases = append(releases, release)
		cached := child != nil
		if !cached {
			if here.Kind() != dag.Dir {
				return nil, errors.WithStack(&NotDirectoryError{Path: fspath.Dir(pathSoFar)})
			}
			if child, err = here.Child(ctx, entry); err != nil {
				return nil, err
			}
		}
		if child == nil {
			switch {
			case flags&openLastOptional != 0 && last:
				return &parentPath{entry: entry, parent: pp}, nil
			case flags&openAllowNull != 0:
				return nil, nil
			default:
				return nil, errors.WithStack(&PathNotFoundError{Root: r.String(), Path: path})
			}
		}
		if flags&openNodeOnly != 0 {
			pp.node = child
		} else {
			pp = &parentPath{node: child, entry: entry, parent: pp}
			if txnPath {
				if err := r.computeCopyInheritance(ctx, pp); err != nil {
					return nil, err
				}
			}
		}
		if !cached {
			r.cacheSet(pathSoFar, child)
		}
		if !last && child.Kind() != dag.Dir {
			return nil, errors.WithStack(&NotDirectoryError{Path: pathSoFar})
		}
		here = child
	}
	return pp, nil
}

// computeCopyInheritance decides which copy-id the node of link gets when it is made mutable.
func (r *Root) computeCopyInheritance(ctx context.Context, link *parentPath) error {
	if link.parent == nil {
		return fserr.Malfunction("copy inheritance requested for the root")
	}
	if !r.IsTxnRoot() {
		return fserr.Malfunction("copy inheritance requested outside a transaction")
	}
	childID := link.node.ID()
	parentID := link.parent.node.ID()
	link.inherit, link.copySrcPath = inheritParent, ""
	if childID.IsMutable() {
		link.inherit = inheritSelf
		return nil
	}
	if childID.CopyID == nodeid.NoCopyID || childID.CopyID == parentID.CopyID {
		return nil
	}
	// The child is a branch point, or lies under one.  It keeps its copy-id only if it is reached
	// through the path it was created at.
	copyroot, err := r.copyrootNode(ctx, link.node)
	if err != nil {
		return err
	}
	if nodeid.Compare(copyroot.ID(), childID) == -1 {
		return nil
	}
	if created := link.node.CreatedPath(); created == link.path() {
		link.inherit = inheritSelf
	} else {
		link.inherit, link.copySrcPath = inheritNew, created
	}
	return nil
}

// copyrootNode returns the node at the copy root of n.
func (r *Root) copyrootNode(ctx context.Context, n *dag.Node) (*dag.Node, error) {
	rev, path, err := n.CopyRoot(ctx)
	if err != nil {
		return nil, err
	}
	if !rev.IsValid() {
		return nil, fserr.Malfunction("node %s has a copy root inside a transaction", n.ID())
	}
	root, err := r.fs.RevisionRoot(ctx, rev)
	if err != nil {
		return nil, err
	}
	return root.getDAG(ctx, path)
}
