package fsfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/fsfs/src/internal/fsconfig"
	"github.com/pachyderm/fsfs/src/internal/pctx"
	"github.com/pachyderm/fsfs/src/internal/storage/kv"
)

func newTestFS(t *testing.T, modify ...func(*fsconfig.Configuration)) (context.Context, *FS) {
	t.Helper()
	ctx := pctx.TestContext(t)
	config := fsconfig.NewConfiguration()
	for _, m := range modify {
		m(config)
	}
	fs, err := Create(ctx, kv.NewMemStore(), config)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, fs.Close()) })
	return ctx, fs
}

func ptr(s string) *string { return &s }

func begin(ctx context.Context, t *testing.T, fs *FS, flags TxnFlags) (*Txn, *Root) {
	t.Helper()
	youngest, err := fs.Youngest(ctx)
	require.NoError(t, err)
	txn, err := fs.BeginTxn(ctx, youngest, flags)
	require.NoError(t, err)
	root, err := txn.Root(ctx)
	require.NoError(t, err)
	return txn, root
}

// edit applies f to a transaction on the youngest revision and commits it.
func edit(ctx context.Context, t *testing.T, fs *FS, f func(root *Root)) Revnum {
	t.Helper()
	txn, root := begin(ctx, t, fs, TxnFlags{})
	f(root)
	rev, err := txn.Commit(ctx)
	require.NoError(t, err)
	return rev
}

func revisionRoot(ctx context.Context, t *testing.T, fs *FS, rev Revnum) *Root {
	t.Helper()
	root, err := fs.RevisionRoot(ctx, rev)
	require.NoError(t, err)
	return root
}

func writeFile(ctx context.Context, t *testing.T, root *Root, path, text string) {
	t.Helper()
	w, err := root.ApplyText(ctx, path, "")
	require.NoError(t, err)
	_, err = w.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(ctx context.Context, t *testing.T, root *Root, path string) string {
	t.Helper()
	data, err := root.FileContents(ctx, path)
	require.NoError(t, err)
	return string(data)
}

func TestCreateOpen(t *testing.T) {
	ctx := pctx.TestContext(t)
	store := kv.NewMemStore()
	fs, err := Create(ctx, store, nil)
	require.NoError(t, err)
	require.Equal(t, FormatRevLocalIDs, fs.Format())
	youngest, err := fs.Youngest(ctx)
	require.NoError(t, err)
	require.Equal(t, Revnum(0), youngest)
	entries, err := revisionRoot(ctx, t, fs, 0).DirEntries(ctx, "/")
	require.NoError(t, err)
	require.Empty(t, entries)
	_, err = fs.RevisionRoot(ctx, 1)
	require.True(t, IsNoSuchRevision(err))

	reopened, err := Open(ctx, store, nil)
	require.NoError(t, err)
	require.Equal(t, fs.UUID(), reopened.UUID())
	require.NoError(t, reopened.Close())
	require.NoError(t, fs.Close())
}

func TestTreeOperations(t *testing.T) {
	ctx, fs := newTestFS(t)
	rev := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/a"))
		require.NoError(t, root.MakeFile(ctx, "/a/f"))
		writeFile(ctx, t, root, "/a/f", "hello")
		require.True(t, IsAlreadyExists(root.MakeDir(ctx, "/a")))
		require.True(t, IsAlreadyExists(root.MakeFile(ctx, "/a/f")))
		require.True(t, IsNotFound(root.MakeFile(ctx, "/missing/f")))
		require.True(t, IsInvalidPath(root.MakeFile(ctx, "/a/bad\nname")))
		require.True(t, IsNotDirectory(root.MakeFile(ctx, "/a/f/g")))
	})
	root := revisionRoot(ctx, t, fs, rev)
	for path, want := range map[string]NodeKind{
		"/":       KindDir,
		"/a":      KindDir,
		"/a/f":    KindFile,
		"/nope":   KindNone,
		"/a/f/x":  KindNone,
		"a//f/":   KindFile,
		"/a/nope": KindNone,
	} {
		kind, err := root.CheckPath(ctx, path)
		require.NoError(t, err, path)
		require.Equal(t, want, kind, path)
	}
	require.Equal(t, "hello", readFile(ctx, t, root, "/a/f"))
	length, err := root.FileLength(ctx, "/a/f")
	require.NoError(t, err)
	require.Equal(t, int64(5), length)
	sum, err := root.FileChecksum(ctx, "/a/f")
	require.NoError(t, err)
	require.Equal(t, Checksum([]byte("hello")), sum)

	entries, err := root.DirEntries(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, KindFile, entries["f"].Kind)
	created, err := root.NodeCreatedRev(ctx, "/a/f")
	require.NoError(t, err)
	require.Equal(t, rev, created)
	createdPath, err := root.NodeCreatedPath(ctx, "/a/f")
	require.NoError(t, err)
	require.Equal(t, "/a/f", createdPath)

	_, err = root.FileContents(ctx, "/a")
	require.True(t, IsNotFile(err))
	_, err = root.DirEntries(ctx, "/a/f")
	require.True(t, IsNotDirectory(err))
	_, err = root.NodeID(ctx, "/nope")
	require.True(t, IsNotFound(err))

	require.True(t, IsNotMutable(root.MakeDir(ctx, "/b")))
	require.True(t, IsNotTxnRoot(root.Delete(ctx, "/a")))
	require.True(t, IsNotTxnRoot(root.ChangeNodeProp(ctx, "/a", "p", ptr("v"))))
	_, err = root.ApplyText(ctx, "/a/f", "")
	require.True(t, IsNotTxnRoot(err))
}

func TestRevisionRootRejectsEdits(t *testing.T) {
	ctx, fs := newTestFS(t)
	rev := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/a"))
		require.NoError(t, root.MakeFile(ctx, "/a/f"))
	})
	root := revisionRoot(ctx, t, fs, rev)
	for _, err := range []error{
		root.MakeDir(ctx, "/a/b"),
		root.MakeFile(ctx, "/a/g"),
		root.MakeFile(ctx, "/a/f"),
		root.MakeDir(ctx, "/missing/b"),
		root.Delete(ctx, "/a/f"),
		Copy(ctx, root, "/a", root, "/a/copy"),
	} {
		require.True(t, IsNotTxnRoot(err), "%v", err)
		require.True(t, IsNotMutable(err), "%v", err)
	}

	// The sentinel already has a stack; it is returned as is.
	require.Equal(t, ErrNotTxnRoot, root.MakeDir(ctx, "/a/b"))

	// Nothing was cloned into the revision.
	for _, path := range []string{"/a/b", "/a/g", "/a/copy"} {
		kind, err := root.CheckPath(ctx, path)
		require.NoError(t, err)
		require.Equal(t, KindNone, kind, path)
	}
	id, err := root.NodeID(ctx, "/a")
	require.NoError(t, err)
	again, err := revisionRoot(ctx, t, fs, rev).NodeID(ctx, "/a")
	require.NoError(t, err)
	require.True(t, id.Equal(again))
	require.NoError(t, fs.Verify(ctx, 0, rev))
}

func TestDelete(t *testing.T) {
	ctx, fs := newTestFS(t)
	r1 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/a"))
		require.NoError(t, root.MakeDir(ctx, "/a/b"))
		require.NoError(t, root.MakeFile(ctx, "/a/b/f"))
	})
	r2 := edit(ctx, t, fs, func(root *Root) {
		require.True(t, IsCannotDeleteRoot(root.Delete(ctx, "/")))
		require.True(t, IsNotFound(root.Delete(ctx, "/nope")))
		require.NoError(t, root.Delete(ctx, "/a/b"))
		kind, err := root.CheckPath(ctx, "/a/b/f")
		require.NoError(t, err)
		require.Equal(t, KindNone, kind)
	})
	kind, err := revisionRoot(ctx, t, fs, r2).CheckPath(ctx, "/a/b")
	require.NoError(t, err)
	require.Equal(t, KindNone, kind)
	kind, err = revisionRoot(ctx, t, fs, r1).CheckPath(ctx, "/a/b/f")
	require.NoError(t, err)
	require.Equal(t, KindFile, kind)

	changes, err := revisionRoot(ctx, t, fs, r2).PathsChanged(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeDelete, changes["/a/b"].Kind)
}

func TestNodeProps(t *testing.T) {
	ctx, fs := newTestFS(t)
	rev := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeFile(ctx, "/f"))
		require.NoError(t, root.ChangeNodeProp(ctx, "/f", "color", ptr("blue")))
		require.NoError(t, root.ChangeNodeProp(ctx, "/f", "shape", ptr("round")))
		require.NoError(t, root.ChangeNodeProp(ctx, "/f", "shape", nil))
		// Deleting from an empty property list is a no-op.
		require.NoError(t, root.ChangeNodeProp(ctx, "/", "nothing", nil))
	})
	root := revisionRoot(ctx, t, fs, rev)
	props, err := root.NodeProplist(ctx, "/f")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"color": "blue"}, props)
	v, err := root.NodeProp(ctx, "/f", "color")
	require.NoError(t, err)
	require.Equal(t, "blue", *v)
	v, err = root.NodeProp(ctx, "/f", "shape")
	require.NoError(t, err)
	require.Nil(t, v)
	props, err = root.NodeProplist(ctx, "/")
	require.NoError(t, err)
	require.Empty(t, props)
}

func TestMutationClonesOnce(t *testing.T) {
	ctx, fs := newTestFS(t)
	rev := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/a"))
		require.NoError(t, root.MakeFile(ctx, "/a/f"))
	})
	committed, err := revisionRoot(ctx, t, fs, rev).NodeID(ctx, "/a/f")
	require.NoError(t, err)

	_, root := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, root.ChangeNodeProp(ctx, "/a/f", "p", ptr("1")))
	first, err := root.NodeID(ctx, "/a/f")
	require.NoError(t, err)
	require.True(t, first.IsMutable())
	require.True(t, first.Related(committed))
	require.False(t, first.Equal(committed))
	dir, err := root.NodeID(ctx, "/a")
	require.NoError(t, err)
	require.True(t, dir.IsMutable())

	require.NoError(t, root.ChangeNodeProp(ctx, "/a/f", "p", ptr("2")))
	writeFile(ctx, t, root, "/a/f", "text")
	second, err := root.NodeID(ctx, "/a/f")
	require.NoError(t, err)
	require.True(t, first.Equal(second))
	dir2, err := root.NodeID(ctx, "/a")
	require.NoError(t, err)
	require.True(t, dir.Equal(dir2))

	// The revision is untouched.
	again, err := revisionRoot(ctx, t, fs, rev).NodeID(ctx, "/a/f")
	require.NoError(t, err)
	require.True(t, committed.Equal(again))
}

func TestCopyAndRevisionLink(t *testing.T) {
	ctx, fs := newTestFS(t)
	r1 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/a"))
		require.NoError(t, root.MakeFile(ctx, "/a/f"))
		writeFile(ctx, t, root, "/a/f", "hello")
	})
	from := revisionRoot(ctx, t, fs, r1)
	r2 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, Copy(ctx, from, "/a", root, "/b"))
		require.True(t, IsUnsupported(Copy(ctx, root, "/a", root, "/c")))
		require.True(t, IsNotTxnRoot(Copy(ctx, from, "/a", from, "/c")))
		rev, path, err := root.CopiedFrom(ctx, "/b")
		require.NoError(t, err)
		require.Equal(t, r1, rev)
		require.Equal(t, "/a", path)
		writeFile(ctx, t, root, "/a/f", "changed")
	})
	root2 := revisionRoot(ctx, t, fs, r2)
	require.Equal(t, "hello", readFile(ctx, t, root2, "/b/f"))
	require.Equal(t, "changed", readFile(ctx, t, root2, "/a/f"))

	changes, err := root2.PathsChanged(ctx)
	require.NoError(t, err)
	require.Equal(t, ChangeAdd, changes["/b"].Kind)
	require.Equal(t, r1, changes["/b"].CopyFromRev)
	require.Equal(t, "/a", changes["/b"].CopyFromPath)
	rev, path, err := root2.CopiedFrom(ctx, "/b")
	require.NoError(t, err)
	require.Equal(t, r1, rev)
	require.Equal(t, "/a", path)
	rev, _, err = root2.CopiedFrom(ctx, "/b/f")
	require.NoError(t, err)
	require.Equal(t, InvalidRevnum, rev)

	// Linking restores the very node-revision of r1.
	r3 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, RevisionLink(ctx, from, root, "/a"))
	})
	root3 := revisionRoot(ctx, t, fs, r3)
	require.Equal(t, "hello", readFile(ctx, t, root3, "/a/f"))
	id1, err := from.NodeID(ctx, "/a")
	require.NoError(t, err)
	id3, err := root3.NodeID(ctx, "/a")
	require.NoError(t, err)
	require.True(t, id1.Equal(id3))
	rev, _, err = root3.CopiedFrom(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, InvalidRevnum, rev)
}

func TestCopyBetweenFilesystems(t *testing.T) {
	ctx, fs1 := newTestFS(t)
	_, fs2 := newTestFS(t)
	_, root := begin(ctx, t, fs2, TxnFlags{})
	require.True(t, IsUnsupported(Copy(ctx, revisionRoot(ctx, t, fs1, 0), "/", root, "/copy")))
}

func TestTxnLifecycle(t *testing.T) {
	ctx, fs := newTestFS(t)
	txn, _ := begin(ctx, t, fs, TxnFlags{CheckLocks: true})
	names, err := fs.ListTxns(ctx)
	require.NoError(t, err)
	require.Contains(t, names, txn.Name())

	require.NoError(t, txn.ChangeProp(ctx, "svn:log", ptr("message")))
	reopened, err := fs.OpenTxn(ctx, txn.Name())
	require.NoError(t, err)
	require.True(t, reopened.Flags().CheckLocks)
	v, err := reopened.Prop(ctx, "svn:log")
	require.NoError(t, err)
	require.Equal(t, "message", *v)
	base, err := reopened.Base(ctx)
	require.NoError(t, err)
	require.Equal(t, Revnum(0), base)

	root, err := reopened.Root(ctx)
	require.NoError(t, err)
	require.True(t, root.IsTxnRoot())
	require.Equal(t, txn.Name(), root.TxnName())
	require.NoError(t, root.MakeFile(ctx, "/f"))
	rev, err := reopened.Commit(ctx)
	require.NoError(t, err)
	msg, err := fs.RevisionProp(ctx, rev, "svn:log")
	require.NoError(t, err)
	require.Equal(t, "message", *msg)

	_, err = fs.OpenTxn(ctx, txn.Name())
	require.True(t, IsNoSuchTxn(err))

	aborted, _ := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, aborted.Abort(ctx))
	_, err = aborted.Root(ctx)
	require.True(t, IsNoSuchTxn(err))
	names, err = fs.ListTxns(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestRevisionProps(t *testing.T) {
	ctx, fs := newTestFS(t)
	rev := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeFile(ctx, "/f"))
	})
	require.NoError(t, fs.ChangeRevisionProp(ctx, rev, "svn:author", ptr("alice")))
	props, err := fs.RevisionProps(ctx, rev)
	require.NoError(t, err)
	require.Equal(t, "alice", props["svn:author"])
	require.NoError(t, fs.ChangeRevisionProp(ctx, rev, "svn:author", nil))
	v, err := fs.RevisionProp(ctx, rev, "svn:author")
	require.NoError(t, err)
	require.Nil(t, v)
}

// snapshot records every path of a revision with its kind, text and created revision.
func snapshot(ctx context.Context, t *testing.T, root *Root, path string, into map[string]string) {
	t.Helper()
	kind, err := root.CheckPath(ctx, path)
	require.NoError(t, err)
	created, err := root.NodeCreatedRev(ctx, path)
	require.NoError(t, err)
	switch kind {
	case KindFile:
		into[path] = "file@" + created.String() + ":" + readFile(ctx, t, root, path)
	case KindDir:
		into[path] = "dir@" + created.String()
		entries, err := root.DirEntries(ctx, path)
		require.NoError(t, err)
		for name := range entries {
			child := path + "/" + name
			if path == "/" {
				child = "/" + name
			}
			snapshot(ctx, t, root, child, into)
		}
	}
}

func TestNodeCacheDoesNotChangeResults(t *testing.T) {
	run := func(disable bool) []map[string]string {
		ctx, fs := newTestFS(t, func(c *fsconfig.Configuration) {
			c.Cache.DisableNodeCache = disable
			c.Cache.NodeCacheBuckets = 2
			c.Cache.NodeCacheSize = 2
			c.Cache.TxnNodeCacheSize = 2
		})
		r1 := edit(ctx, t, fs, func(root *Root) {
			require.NoError(t, root.MakeDir(ctx, "/trunk"))
			require.NoError(t, root.MakeDir(ctx, "/trunk/d"))
			require.NoError(t, root.MakeFile(ctx, "/trunk/d/f"))
			writeFile(ctx, t, root, "/trunk/d/f", "one")
		})
		edit(ctx, t, fs, func(root *Root) {
			require.NoError(t, Copy(ctx, revisionRoot(ctx, t, fs, r1), "/trunk", root, "/branch"))
			writeFile(ctx, t, root, "/branch/d/f", "two")
			require.NoError(t, root.MakeFile(ctx, "/branch/d/g"))
		})
		edit(ctx, t, fs, func(root *Root) {
			require.NoError(t, root.Delete(ctx, "/trunk/d"))
			writeFile(ctx, t, root, "/branch/d/g", "three")
		})
		youngest, err := fs.Youngest(ctx)
		require.NoError(t, err)
		var result []map[string]string
		for rev := Revnum(0); rev <= youngest; rev++ {
			snap := make(map[string]string)
			snapshot(ctx, t, revisionRoot(ctx, t, fs, rev), "/", snap)
			result = append(result, snap)
		}
		require.NoError(t, fs.Verify(ctx, 0, youngest))
		return result
	}
	require.Equal(t, run(true), run(false))
}
