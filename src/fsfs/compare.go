package fsfs

import (
	"context"
	"maps"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
)

// ContentsChanged reports whether the file at path1 in root1 and the file at path2 in root2 have
// different text.
func ContentsChanged(ctx context.Context, root1 *Root, path1 string, root2 *Root, path2 string) (bool, error) {
	if root1.fs.UUID() != root2.fs.UUID() {
		return false, errors.WithStack(&UnsupportedError{Msg: "cannot compare file contents between two different filesystems"})
	}
	n1, err := compareNode(ctx, root1, path1, true)
	if err != nil {
		return false, err
	}
	n2, err := compareNode(ctx, root2, path2, true)
	if err != nil {
		return false, err
	}
	if same, err := dag.SameText(ctx, n1, n2); err != nil || same {
		return false, err
	}
	// Equal text may still be stored twice.
	sum1, err := n1.Checksum(ctx)
	if err != nil {
		return false, err
	}
	sum2, err := n2.Checksum(ctx)
	if err != nil {
		return false, err
	}
	return sum1 != sum2, nil
}

// PropsChanged reports whether the node at path1 in root1 and the node at path2 in root2 have
// different properties.
func PropsChanged(ctx context.Context, root1 *Root, path1 string, root2 *Root, path2 string) (bool, error) {
	if root1.fs.UUID() != root2.fs.UUID() {
		return false, errors.WithStack(&UnsupportedError{Msg: "cannot compare property value between two different filesystems"})
	}
	n1, err := compareNode(ctx, root1, path1, false)
	if err != nil {
		return false, err
	}
	n2, err := compareNode(ctx, root2, path2, false)
	if err != nil {
		return false, err
	}
	if same, err := dag.SameProps(ctx, n1, n2); err != nil || same {
		return false, err
	}
	p1, err := n1.Proplist(ctx)
	if err != nil {
		return false, err
	}
	p2, err := n2.Proplist(ctx)
	if err != nil {
		return false, err
	}
	return !maps.Equal(p1, p2), nil
}

func compareNode(ctx context.Context, r *Root, path string, file bool) (*dag.Node, error) {
	n, err := r.getDAG(ctx, path)
	if err != nil {
		return nil, err
	}
	if file && n.Kind() != dag.File {
		return nil, errors.WithStack(&NotFileError{Path: path})
	}
	return n, nil
}
