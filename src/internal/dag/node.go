package dag

import (
	"context"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fserr"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
)

// Node is a handle to a node-revision.  Handles to committed node-revisions hold their record;
// handles to mutable ones read it on every access, so every handle observes the latest change.
type Node struct {
	repo        *Repo
	id          nodeid.ID
	kind        Kind
	createdPath string
	noderev     *NodeRev
}

func (n *Node) ID() nodeid.ID       { return n.id }
func (n *Node) Kind() Kind          { return n.kind }
func (n *Node) IsMutable() bool     { return n.id.IsMutable() }
func (n *Node) CreatedPath() string { return n.createdPath }
func (n *Node) Repo() *Repo         { return n.repo }

// Revision returns the revision the node-revision was committed in, or InvalidRevnum if it is
// mutable.
func (n *Node) Revision() nodeid.Revnum {
	return n.id.Rev
}

func (n *Node) read(ctx context.Context) (*NodeRev, error) {
	if n.noderev != nil {
		return n.noderev, nil
	}
	return n.repo.readNodeRev(ctx, n.id)
}

// NodeRev returns a copy of the node-revision's record.
func (n *Node) NodeRev(ctx context.Context) (*NodeRev, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return nil, err
	}
	return nr.Clone(), nil
}

// PredecessorID returns the id of the node-revision's predecessor, or nil.
func (n *Node) PredecessorID(ctx context.Context) (*nodeid.ID, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return nil, err
	}
	if nr.Predecessor == nil {
		return nil, nil
	}
	id := *nr.Predecessor
	return &id, nil
}

func (n *Node) PredecessorCount(ctx context.Context) (int, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return 0, err
	}
	return nr.PredecessorCount, nil
}

// CopyRoot returns the root of the copy the node-revision was created under.
func (n *Node) CopyRoot(ctx context.Context) (nodeid.Revnum, string, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return nodeid.InvalidRevnum, "", err
	}
	return nr.CopyRootRev, nr.CopyRootPath, nil
}

// CopyFrom returns the source of the copy that created this node-revision, or InvalidRevnum.
func (n *Node) CopyFrom(ctx context.Context) (nodeid.Revnum, string, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return nodeid.InvalidRevnum, "", err
	}
	return nr.CopyFromRev, nr.CopyFromPath, nil
}

func (n *Node) MergeinfoCount(ctx context.Context) (int64, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return 0, err
	}
	return nr.MergeinfoCount, nil
}

func (n *Node) HasMergeinfo(ctx context.Context) (bool, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return false, err
	}
	return nr.HasMergeinfo, nil
}

func (n *Node) HasDescendantsWithMergeinfo(ctx context.Context) (bool, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return false, err
	}
	return nr.HasDescendantsWithMergeinfo(), nil
}

// Entries returns the entries of a directory.
func (n *Node) Entries(ctx context.Context) (map[string]DirEntry, error) {
	if n.kind != Dir {
		return nil, errors.WithStack(&fserr.NotDirectoryError{Path: n.createdPath})
	}
	nr, err := n.read(ctx)
	if err != nil {
		return nil, err
	}
	return n.repo.readEntries(ctx, nr.DataRep)
}

// Child returns the entry name of a directory, or nil if there is none.
func (n *Node) Child(ctx context.Context, name string) (*Node, error) {
	entries, err := n.Entries(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := entries[name]
	if !ok {
		return nil, nil
	}
	return n.repo.GetNode(ctx, entry.ID)
}

// Open is like Child, but a missing entry is an error.
func (n *Node) Open(ctx context.Context, name string) (*Node, error) {
	if !fspath.IsSingleComponent(name) {
		return nil, errors.WithStack(&fserr.InvalidPathError{Path: name, Reason: "not a single path component"})
	}
	child, err := n.Child(ctx, name)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, errors.WithStack(&fserr.PathNotFoundError{Path: fspath.Join(n.createdPath, name)})
	}
	return child, nil
}

// Proplist returns the node's properties.
func (n *Node) Proplist(ctx context.Context) (map[string]string, error) {
	nr, err := n.read(ctx)
	if err != nil {
		return nil, err
	}
	return n.repo.readProps(ctx, nr.PropRep)
}

// Contents returns the text of a file.
func (n *Node) Contents(ctx context.Context) ([]byte, error) {
	if n.kind != File {
		return nil, errors.WithStack(&fserr.NotFileError{Path: n.createdPath})
	}
	nr, err := n.read(ctx)
	if err != nil {
		return nil, err
	}
	if nr.DataRep == nil {
		return []byte{}, nil
	}
	return n.repo.readRep(ctx, *nr.DataRep)
}

// Length returns the length of a file's text.
func (n *Node) Length(ctx context.Context) (int64, error) {
	if n.kind != File {
		return 0, errors.WithStack(&fserr.NotFileError{Path: n.createdPath})
	}
	nr, err := n.read(ctx)
	if err != nil {
		return 0, err
	}
	return nr.TextLength, nil
}

// Checksum returns the checksum of a file's text.
func (n *Node) Checksum(ctx context.Context) (string, error) {
	if n.kind != File {
		return "", errors.WithStack(&fserr.NotFileError{Path: n.createdPath})
	}
	nr, err := n.read(ctx)
	if err != nil {
		return "", err
	}
	if nr.TextChecksum == "" {
		return Checksum(nil), nil
	}
	return nr.TextChecksum, nil
}

// SameProps reports whether a and b share a property representation.
func SameProps(ctx context.Context, a, b *Node) (bool, error) {
	anr, err := a.read(ctx)
	if err != nil {
		return false, err
	}
	bnr, err := b.read(ctx)
	if err != nil {
		return false, err
	}
	return sameRep(anr.PropRep, bnr.PropRep), nil
}

// SameText reports whether a and b share a data representation.
func SameText(ctx context.Context, a, b *Node) (bool, error) {
	anr, err := a.read(ctx)
	if err != nil {
		return false, err
	}
	bnr, err := b.read(ctx)
	if err != nil {
		return false, err
	}
	return sameRep(anr.DataRep, bnr.DataRep), nil
}

func sameRep(a, b *RepKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
