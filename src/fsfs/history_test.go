package fsfs

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/fsfs/src/internal/fsconfig"
	"github.com/pachyderm/fsfs/src/internal/nodeid"
)

type location struct {
	path string
	rev  Revnum
}

func historyOf(ctx context.Context, t *testing.T, root *Root, path string, crossCopies bool) []location {
	t.Helper()
	h, err := root.NodeHistory(ctx, path)
	require.NoError(t, err)
	var result []location
	for {
		h, err = h.Prev(ctx, crossCopies)
		require.NoError(t, err)
		if h == nil {
			return result
		}
		p, rev := h.Location()
		result = append(result, location{p, rev})
	}
}

// branchedTree commits r1 creating /trunk/f, r2 copying /trunk to /branch (and adding
// /branch/new) and r3 editing /branch/f.
func branchedTree(ctx context.Context, t *testing.T, fs *FS) {
	t.Helper()
	r1 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/trunk"))
		require.NoError(t, root.MakeFile(ctx, "/trunk/f"))
		writeFile(ctx, t, root, "/trunk/f", "one")
	})
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, Copy(ctx, revisionRoot(ctx, t, fs, r1), "/trunk", root, "/branch"))
		require.NoError(t, root.MakeFile(ctx, "/branch/new"))
	})
	edit(ctx, t, fs, func(root *Root) {
		writeFile(ctx, t, root, "/branch/f", "three")
	})
}

func TestHistoryCrossesCopies(t *testing.T) {
	ctx, fs := newTestFS(t)
	branchedTree(ctx, t, fs)
	root := revisionRoot(ctx, t, fs, 3)

	require.Equal(t, []location{
		{"/branch/f", 3},
		{"/branch/f", 2},
		{"/trunk/f", 1},
	}, historyOf(ctx, t, root, "/branch/f", true))
	require.Equal(t, []location{
		{"/branch/f", 3},
		{"/branch/f", 2},
	}, historyOf(ctx, t, root, "/branch/f", false))
	require.Equal(t, []location{
		{"/trunk/f", 1},
	}, historyOf(ctx, t, root, "/trunk/f", true))
	require.Equal(t, []location{
		{"/branch/new", 2},
	}, historyOf(ctx, t, root, "/branch/new", true))
}

func TestHistoryOfRoot(t *testing.T) {
	ctx, fs := newTestFS(t)
	branchedTree(ctx, t, fs)
	require.Equal(t, []location{
		{"/", 2},
		{"/", 1},
		{"/", 0},
	}, historyOf(ctx, t, revisionRoot(ctx, t, fs, 2), "/", true))
}

func TestHistoryErrors(t *testing.T) {
	ctx, fs := newTestFS(t)
	branchedTree(ctx, t, fs)
	_, err := revisionRoot(ctx, t, fs, 3).NodeHistory(ctx, "/nope")
	require.True(t, IsNotFound(err))
	_, root := begin(ctx, t, fs, TxnFlags{})
	_, err = root.NodeHistory(ctx, "/branch/f")
	require.True(t, IsNotRevisionRoot(err))
}

func TestClosestCopy(t *testing.T) {
	ctx, fs := newTestFS(t)
	branchedTree(ctx, t, fs)
	root := revisionRoot(ctx, t, fs, 3)

	copyRoot, copyPath, err := root.ClosestCopy(ctx, "/branch/f")
	require.NoError(t, err)
	require.NotNil(t, copyRoot)
	require.Equal(t, Revnum(2), copyRoot.Revision())
	require.Equal(t, "/branch", copyPath)

	// Created beside the copy in the same revision: the copy did not affect it.
	copyRoot, _, err = root.ClosestCopy(ctx, "/branch/new")
	require.NoError(t, err)
	require.Nil(t, copyRoot)

	copyRoot, _, err = root.ClosestCopy(ctx, "/trunk/f")
	require.NoError(t, err)
	require.Nil(t, copyRoot)

	// A copy made by a transaction is found in the transaction.
	_, txnRoot := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, Copy(ctx, root, "/branch", txnRoot, "/tag"))
	copyRoot, copyPath, err = txnRoot.ClosestCopy(ctx, "/tag/f")
	require.NoError(t, err)
	require.Same(t, txnRoot, copyRoot)
	require.Equal(t, "/tag", copyPath)
}

func TestNodeOrigin(t *testing.T) {
	for _, format := range []int{FormatGlobalIDs, FormatRevLocalIDs} {
		t.Run(fmt.Sprintf("format %d", format), func(t *testing.T) {
			ctx, fs := newTestFS(t, func(c *fsconfig.Configuration) { c.Format = format })
			branchedTree(ctx, t, fs)
			root := revisionRoot(ctx, t, fs, 3)
			for path, want := range map[string]Revnum{
				"/":           0,
				"/trunk":      1,
				"/trunk/f":    1,
				"/branch":     1,
				"/branch/f":   1,
				"/branch/new": 2,
			} {
				rev, err := root.NodeOrigin(ctx, path)
				require.NoError(t, err, path)
				require.Equal(t, want, rev, path)
				// The answer is stable once cached.
				rev, err = root.NodeOrigin(ctx, path)
				require.NoError(t, err, path)
				require.Equal(t, want, rev, path)
			}

			_, txnRoot := begin(ctx, t, fs, TxnFlags{})
			require.NoError(t, txnRoot.MakeFile(ctx, "/fresh"))
			rev, err := txnRoot.NodeOrigin(ctx, "/fresh")
			require.NoError(t, err)
			require.Equal(t, InvalidRevnum, rev)
			rev, err = txnRoot.NodeOrigin(ctx, "/branch/f")
			require.NoError(t, err)
			require.Equal(t, Revnum(1), rev)
		})
	}
}

func TestNestedCopyGetsNewCopyID(t *testing.T) {
	ctx, fs := newTestFS(t)
	r1 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/A"))
		require.NoError(t, root.MakeFile(ctx, "/A/f"))
		writeFile(ctx, t, root, "/A/f", "one")
	})
	r2 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/X"))
		require.NoError(t, Copy(ctx, revisionRoot(ctx, t, fs, r1), "/A", root, "/X/A"))
	})
	r3 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, Copy(ctx, revisionRoot(ctx, t, fs, r2), "/X", root, "/Y"))
	})
	copied, err := revisionRoot(ctx, t, fs, r3).NodeID(ctx, "/X/A")
	require.NoError(t, err)

	txn, root := begin(ctx, t, fs, TxnFlags{})
	writeFile(ctx, t, root, "/Y/A/f", "four")
	dir, err := root.NodeID(ctx, "/Y/A")
	require.NoError(t, err)
	require.True(t, nodeid.IsTxnLocal(dir.CopyID), "reached through /Y, /Y/A is a new branch: %v", dir)
	require.True(t, dir.Related(copied))
	file, err := root.NodeID(ctx, "/Y/A/f")
	require.NoError(t, err)
	require.Equal(t, dir.CopyID, file.CopyID)
	branch, err := revisionRoot(ctx, t, fs, r3).NodeID(ctx, "/Y")
	require.NoError(t, err)
	parent, err := root.NodeID(ctx, "/Y")
	require.NoError(t, err)
	require.True(t, parent.IsMutable())
	require.Equal(t, branch.CopyID, parent.CopyID, "/Y keeps the copy-id of its own copy")
	r4, err := txn.Commit(ctx)
	require.NoError(t, err)

	rev4 := revisionRoot(ctx, t, fs, r4)
	dir, err = rev4.NodeID(ctx, "/Y/A")
	require.NoError(t, err)
	require.NotEqual(t, copied.CopyID, dir.CopyID)
	require.False(t, nodeid.IsTxnLocal(dir.CopyID))
	require.Equal(t, "four", readFile(ctx, t, rev4, "/Y/A/f"))
	require.Equal(t, "one", readFile(ctx, t, rev4, "/X/A/f"))
	require.NoError(t, fs.Verify(ctx, 0, r4))

	require.Equal(t, []location{
		{"/Y/A/f", r4},
		{"/Y/A/f", r3},
		{"/X/A/f", r2},
		{"/A/f", r1},
	}, historyOf(ctx, t, rev4, "/Y/A/f", true))
	copyRoot, copyPath, err := rev4.ClosestCopy(ctx, "/Y/A/f")
	require.NoError(t, err)
	require.Equal(t, r3, copyRoot.Revision())
	require.Equal(t, "/Y", copyPath)
}
