package fsfs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/fsconfig"
)

func TestCommitMergesDisjointChanges(t *testing.T) {
	ctx, fs := newTestFS(t)
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/a"))
		require.NoError(t, root.MakeDir(ctx, "/d"))
		require.NoError(t, root.MakeFile(ctx, "/d/x"))
		require.NoError(t, root.MakeFile(ctx, "/d/y"))
	})
	txn1, root1 := begin(ctx, t, fs, TxnFlags{})
	txn2, root2 := begin(ctx, t, fs, TxnFlags{})
	writeFile(ctx, t, root1, "/d/x", "from one")
	require.NoError(t, root1.MakeFile(ctx, "/a/one"))
	writeFile(ctx, t, root2, "/d/y", "from two")
	require.NoError(t, root2.MakeFile(ctx, "/two"))

	r2, err := txn1.Commit(ctx)
	require.NoError(t, err)
	r3, err := txn2.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, r2+1, r3)

	root := revisionRoot(ctx, t, fs, r3)
	require.Equal(t, "from one", readFile(ctx, t, root, "/d/x"))
	require.Equal(t, "from two", readFile(ctx, t, root, "/d/y"))
	for _, p := range []string{"/a/one", "/two"} {
		kind, err := root.CheckPath(ctx, p)
		require.NoError(t, err)
		require.Equal(t, KindFile, kind, p)
	}
	// Only the second transaction's own edits are its changes.
	changes, err := root.PathsChanged(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Contains(t, changes, "/d/y")
	require.Contains(t, changes, "/two")
	require.NoError(t, fs.Verify(ctx, 0, r3))
}

func TestCommitConflicts(t *testing.T) {
	tests := []struct {
		name         string
		first        func(ctx context.Context, t *testing.T, root *Root)
		second       func(ctx context.Context, t *testing.T, root *Root)
		conflictPath string
	}{
		{
			name: "both modify a file",
			first: func(ctx context.Context, t *testing.T, root *Root) {
				writeFile(ctx, t, root, "/d/f", "one")
			},
			second: func(ctx context.Context, t *testing.T, root *Root) {
				writeFile(ctx, t, root, "/d/f", "two")
			},
			conflictPath: "/d/f",
		},
		{
			name: "both add the same name",
			first: func(ctx context.Context, t *testing.T, root *Root) {
				require.NoError(t, root.MakeFile(ctx, "/d/new"))
			},
			second: func(ctx context.Context, t *testing.T, root *Root) {
				require.NoError(t, root.MakeDir(ctx, "/d/new"))
			},
			conflictPath: "/d/new",
		},
		{
			name: "delete against modify",
			first: func(ctx context.Context, t *testing.T, root *Root) {
				require.NoError(t, root.Delete(ctx, "/d/f"))
			},
			second: func(ctx context.Context, t *testing.T, root *Root) {
				require.NoError(t, root.ChangeNodeProp(ctx, "/d/f", "p", ptr("v")))
			},
			conflictPath: "/d/f",
		},
		{
			name: "directory properties against a change below",
			first: func(ctx context.Context, t *testing.T, root *Root) {
				require.NoError(t, root.ChangeNodeProp(ctx, "/d", "p", ptr("v")))
			},
			second: func(ctx context.Context, t *testing.T, root *Root) {
				writeFile(ctx, t, root, "/d/f", "two")
			},
			conflictPath: "/d",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, fs := newTestFS(t)
			edit(ctx, t, fs, func(root *Root) {
				require.NoError(t, root.MakeDir(ctx, "/d"))
				require.NoError(t, root.MakeFile(ctx, "/d/f"))
			})
			txn1, root1 := begin(ctx, t, fs, TxnFlags{})
			txn2, root2 := begin(ctx, t, fs, TxnFlags{})
			test.first(ctx, t, root1)
			test.second(ctx, t, root2)
			_, err := txn1.Commit(ctx)
			require.NoError(t, err)

			_, err = txn2.Commit(ctx)
			require.True(t, IsConflict(err), "%v", err)
			require.False(t, IsOutOfDate(err))
			var conflict *ConflictError
			require.True(t, errors.As(err, &conflict))
			require.Equal(t, test.conflictPath, conflict.Path)

			// The transaction survives the conflict.
			names, err := fs.ListTxns(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{txn2.Name()}, names)
		})
	}
}

// interleave makes every commit attempt of fs race with limit other commits, each adding a file
// under /other.
func interleave(t *testing.T, fs *FS, limit int) *int {
	var n int
	var inside bool
	fs.afterMerge = func(ctx context.Context) {
		if inside || n >= limit {
			return
		}
		inside = true
		defer func() { inside = false }()
		n++
		edit(ctx, t, fs, func(root *Root) {
			require.NoError(t, root.MakeFile(ctx, fmt.Sprintf("/other/%d", n)))
		})
	}
	return &n
}

func TestCommitRetriesWhenOutOfDate(t *testing.T) {
	ctx, fs := newTestFS(t)
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/mine"))
		require.NoError(t, root.MakeDir(ctx, "/other"))
	})
	txn, root := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, root.MakeFile(ctx, "/mine/f"))

	retries := testutil.ToFloat64(commitRetryMetric)
	interlopers := interleave(t, fs, 2)
	rev, err := txn.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, *interlopers)
	require.Equal(t, Revnum(4), rev)
	require.Equal(t, retries+2, testutil.ToFloat64(commitRetryMetric))

	final := revisionRoot(ctx, t, fs, rev)
	for _, p := range []string{"/mine/f", "/other/1", "/other/2"} {
		kind, err := final.CheckPath(ctx, p)
		require.NoError(t, err)
		require.Equal(t, KindFile, kind, p)
	}
	base, err := fs.Youngest(ctx)
	require.NoError(t, err)
	require.Equal(t, rev, base)
}

func TestCommitTooMuchContention(t *testing.T) {
	ctx, fs := newTestFS(t, func(c *fsconfig.Configuration) {
		c.Commit.MaxRetries = 3
		c.Commit.BackoffInitial = time.Millisecond
		c.Commit.BackoffMax = time.Millisecond
	})
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/other"))
	})
	txn, root := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, root.MakeFile(ctx, "/mine"))
	interleave(t, fs, 100)

	_, err := txn.Commit(ctx)
	require.True(t, IsTooMuchContention(err), "%v", err)
	names, err := fs.ListTxns(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{txn.Name()}, names)

	// Without the interference the same transaction commits.
	fs.afterMerge = nil
	rev, err := txn.Commit(ctx)
	require.NoError(t, err)
	kind, err := revisionRoot(ctx, t, fs, rev).CheckPath(ctx, "/mine")
	require.NoError(t, err)
	require.Equal(t, KindFile, kind)
}

func TestCommitCanceled(t *testing.T) {
	ctx, fs := newTestFS(t, func(c *fsconfig.Configuration) {
		c.Commit.MaxRetries = 0
		c.Commit.BackoffInitial = time.Hour
		c.Commit.BackoffMax = time.Hour
	})
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/other"))
	})
	txn, root := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, root.MakeFile(ctx, "/mine"))
	interleave(t, fs, 1)

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := txn.Commit(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommitCheckOutOfDate(t *testing.T) {
	ctx, fs := newTestFS(t)
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/d"))
		require.NoError(t, root.MakeFile(ctx, "/d/x"))
		require.NoError(t, root.MakeFile(ctx, "/d/y"))
		require.NoError(t, root.MakeDir(ctx, "/e"))
	})

	checked, checkedRoot := begin(ctx, t, fs, TxnFlags{CheckOOD: true})
	plain, plainRoot := begin(ctx, t, fs, TxnFlags{})
	writeFile(ctx, t, checkedRoot, "/d/x", "checked")
	writeFile(ctx, t, plainRoot, "/d/x", "plain")
	edit(ctx, t, fs, func(root *Root) {
		writeFile(ctx, t, root, "/d/x", "theirs")
	})
	_, err := checked.Commit(ctx)
	require.True(t, IsOutOfDate(err), "%v", err)
	require.False(t, IsConflict(err))
	require.Contains(t, err.Error(), "'/d/x'")
	_, err = plain.Commit(ctx)
	require.True(t, IsConflict(err), "%v", err)
	// The checked transaction was not merged forward.
	require.Equal(t, "checked", readFile(ctx, t, checkedRoot, "/d/x"))

	// Changes elsewhere, and additions beside ours, still merge.
	txn, root := begin(ctx, t, fs, TxnFlags{CheckOOD: true})
	writeFile(ctx, t, root, "/d/y", "mine")
	require.NoError(t, root.MakeFile(ctx, "/e/mine"))
	edit(ctx, t, fs, func(root *Root) {
		writeFile(ctx, t, root, "/d/x", "again")
		require.NoError(t, root.MakeFile(ctx, "/e/theirs"))
	})
	rev, err := txn.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, "again", readFile(ctx, t, revisionRoot(ctx, t, fs, rev), "/d/x"))

	txn, root = begin(ctx, t, fs, TxnFlags{CheckOOD: true})
	writeFile(ctx, t, root, "/d/y", "gone")
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.Delete(ctx, "/d/y"))
	})
	_, err = txn.Commit(ctx)
	require.True(t, IsOutOfDate(err), "%v", err)
	require.Contains(t, err.Error(), "removed")
}

func TestComparePaths(t *testing.T) {
	require.Negative(t, comparePaths("/a", "/a/b"))
	require.Negative(t, comparePaths("/a/b", "/a-b"))
	require.Negative(t, comparePaths("/", "/a"))
	require.Zero(t, comparePaths("/a/b", "/a/b"))
	require.Positive(t, comparePaths("/b", "/a/z"))
}
