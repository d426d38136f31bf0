package fsfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/fsfs/src/internal/errors"
)

// mergeTree commits r1 with /d/x and /d/y and r2 adding /d/new and editing /d/y, then begins a
// transaction on r1.
func mergeTree(ctx context.Context, t *testing.T, fs *FS) (*Txn, *Root) {
	t.Helper()
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/d"))
		require.NoError(t, root.MakeFile(ctx, "/d/x"))
		require.NoError(t, root.MakeFile(ctx, "/d/y"))
		require.NoError(t, root.MakeDir(ctx, "/e"))
	})
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeFile(ctx, "/d/new"))
		writeFile(ctx, t, root, "/d/y", "y2")
	})
	txn, err := fs.BeginTxn(ctx, 1, TxnFlags{})
	require.NoError(t, err)
	root, err := txn.Root(ctx)
	require.NoError(t, err)
	return txn, root
}

func TestMerge(t *testing.T) {
	ctx, fs := newTestFS(t)
	_, root := mergeTree(ctx, t, fs)
	writeFile(ctx, t, root, "/d/x", "x mine")
	require.NoError(t, root.MakeFile(ctx, "/e/mine"))

	r1, r2 := revisionRoot(ctx, t, fs, 1), revisionRoot(ctx, t, fs, 2)
	require.NoError(t, Merge(ctx, r2, "/", root, "/", r1, "/"))
	require.Equal(t, "x mine", readFile(ctx, t, root, "/d/x"))
	require.Equal(t, "y2", readFile(ctx, t, root, "/d/y"))
	for _, p := range []string{"/d/new", "/e/mine"} {
		kind, err := root.CheckPath(ctx, p)
		require.NoError(t, err)
		require.Equal(t, KindFile, kind, p)
	}
	// Merged changes are not changes of the transaction.
	changes, err := root.PathsChanged(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Contains(t, changes, "/d/x")
	require.Contains(t, changes, "/e/mine")

	// A source equal to the ancestor brings no changes.
	require.NoError(t, Merge(ctx, r1, "/", root, "/", r1, "/"))
	require.Equal(t, "y2", readFile(ctx, t, root, "/d/y"))
}

func TestMergeSubtree(t *testing.T) {
	ctx, fs := newTestFS(t)
	_, root := mergeTree(ctx, t, fs)
	r1, r2 := revisionRoot(ctx, t, fs, 1), revisionRoot(ctx, t, fs, 2)
	require.NoError(t, root.MakeFile(ctx, "/e/mine"))
	require.NoError(t, Merge(ctx, r2, "/d", root, "/d", r1, "/d"))

	entries, err := root.DirEntries(ctx, "/d")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Contains(t, entries, "new")
	require.Equal(t, "y2", readFile(ctx, t, root, "/d/y"))
	entries, err = root.DirEntries(ctx, "/e")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries, "mine")
	require.NoError(t, root.Verify(ctx))
}

func TestMergeConflict(t *testing.T) {
	ctx, fs := newTestFS(t)
	_, root := mergeTree(ctx, t, fs)
	writeFile(ctx, t, root, "/d/y", "y mine")

	err := Merge(ctx, revisionRoot(ctx, t, fs, 2), "/", root, "/", revisionRoot(ctx, t, fs, 1), "/")
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict), "%v", err)
	require.Equal(t, "/d/y", conflict.Path)
}

func TestMergeErrors(t *testing.T) {
	ctx, fs := newTestFS(t)
	_, root := mergeTree(ctx, t, fs)
	r1, r2 := revisionRoot(ctx, t, fs, 1), revisionRoot(ctx, t, fs, 2)

	require.True(t, IsNotTxnRoot(Merge(ctx, r2, "/", r1, "/", r1, "/")))
	require.True(t, IsMalfunction(Merge(ctx, r2, "/", root, "/", root, "/")))
	require.True(t, IsNotFound(Merge(ctx, r2, "/nope", root, "/", r1, "/")))

	_, other := newTestFS(t)
	require.True(t, IsCorrupt(Merge(ctx, revisionRoot(ctx, t, other, 0), "/", root, "/", r1, "/")))
}
