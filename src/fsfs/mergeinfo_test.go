package fsfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/fsfs/src/internal/fsconfig"
	"github.com/pachyderm/fsfs/src/internal/mergeinfo"
)

func catalogStrings(c Catalog) map[string]string {
	result := make(map[string]string, len(c))
	for path, mi := range c {
		result[path] = mi.String()
	}
	return result
}

func TestGetMergeinfo(t *testing.T) {
	ctx, fs := newTestFS(t)
	rev := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/trunk"))
		require.NoError(t, root.MakeDir(ctx, "/trunk/sub"))
		require.NoError(t, root.MakeFile(ctx, "/trunk/sub/f"))
		require.NoError(t, root.MakeFile(ctx, "/trunk/bad"))
		require.NoError(t, root.ChangeNodeProp(ctx, "/trunk", mergeinfo.PropName, ptr("/branch:1-3,5*")))
		require.NoError(t, root.ChangeNodeProp(ctx, "/trunk/sub/f", mergeinfo.PropName, ptr("/other/f:2")))
		require.NoError(t, root.ChangeNodeProp(ctx, "/trunk/bad", mergeinfo.PropName, ptr("not mergeinfo")))
	})
	root := revisionRoot(ctx, t, fs, rev)

	tests := []struct {
		name        string
		paths       []string
		inherit     InheritMode
		descendants bool
		adjust      bool
		want        map[string]string
	}{
		{
			name:    "explicit",
			paths:   []string{"/trunk", "/trunk/sub"},
			inherit: MergeinfoExplicit,
			want:    map[string]string{"/trunk": "/branch:1-3,5*"},
		},
		{
			name:    "inherited and adjusted",
			paths:   []string{"/trunk/sub"},
			inherit: MergeinfoInherited,
			adjust:  true,
			want:    map[string]string{"/trunk/sub": "/branch/sub:1-3"},
		},
		{
			name:    "inherited unadjusted",
			paths:   []string{"/trunk/sub"},
			inherit: MergeinfoInherited,
			want:    map[string]string{"/trunk/sub": "/branch:1-3,5*"},
		},
		{
			name:    "own mergeinfo wins",
			paths:   []string{"/trunk/sub/f"},
			inherit: MergeinfoInherited,
			adjust:  true,
			want:    map[string]string{"/trunk/sub/f": "/other/f:2"},
		},
		{
			name:    "nearest ancestor",
			paths:   []string{"/trunk/sub/f", "/trunk", "/"},
			inherit: MergeinfoNearestAncestor,
			adjust:  true,
			want:    map[string]string{"/trunk/sub/f": "/branch/sub/f:1-3"},
		},
		{
			name:    "unparseable counts as none",
			paths:   []string{"/trunk/bad"},
			inherit: MergeinfoExplicit,
			want:    map[string]string{},
		},
		{
			name:        "descendants",
			paths:       []string{"/"},
			inherit:     MergeinfoExplicit,
			descendants: true,
			want: map[string]string{
				"/trunk":       "/branch:1-3,5*",
				"/trunk/sub/f": "/other/f:2",
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// Twice: the second answer comes from the caches.
			for i := 0; i < 2; i++ {
				catalog, err := root.GetMergeinfo(ctx, test.paths, test.inherit, test.descendants, test.adjust)
				require.NoError(t, err)
				require.Equal(t, test.want, catalogStrings(catalog))
			}
		})
	}
}

func TestGetMergeinfoErrors(t *testing.T) {
	ctx, fs := newTestFS(t)
	_, txnRoot := begin(ctx, t, fs, TxnFlags{})
	_, err := txnRoot.GetMergeinfo(ctx, []string{"/"}, MergeinfoInherited, false, false)
	require.True(t, IsNotRevisionRoot(err))
	_, err = revisionRoot(ctx, t, fs, 0).GetMergeinfo(ctx, []string{"/nope"}, MergeinfoInherited, false, false)
	require.True(t, IsNotFound(err))

	ctx, old := newTestFS(t, func(c *fsconfig.Configuration) { c.Format = FormatGlobalIDs })
	_, err = revisionRoot(ctx, t, old, 0).GetMergeinfo(ctx, []string{"/"}, MergeinfoInherited, false, false)
	require.True(t, IsFormat(err))
}

func TestMergeinfoCountsFollowEdits(t *testing.T) {
	ctx, fs := newTestFS(t)
	r1 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeDir(ctx, "/a"))
		require.NoError(t, root.MakeDir(ctx, "/a/b"))
		require.NoError(t, root.MakeFile(ctx, "/a/b/f"))
		require.NoError(t, root.ChangeNodeProp(ctx, "/a/b/f", mergeinfo.PropName, ptr("/x:1")))
		require.NoError(t, root.ChangeNodeProp(ctx, "/a", mergeinfo.PropName, ptr("/y:1")))
		require.NoError(t, root.Verify(ctx))
	})
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, Copy(ctx, revisionRoot(ctx, t, fs, r1), "/a", root, "/c"))
		require.NoError(t, root.ChangeNodeProp(ctx, "/a", mergeinfo.PropName, nil))
		require.NoError(t, root.Verify(ctx))
	})
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.Delete(ctx, "/c/b"))
		require.NoError(t, RevisionLink(ctx, revisionRoot(ctx, t, fs, r1), root, "/a"))
		require.NoError(t, root.Verify(ctx))
	})
	youngest, err := fs.Youngest(ctx)
	require.NoError(t, err)
	require.NoError(t, fs.Verify(ctx, 0, youngest))
	require.NoError(t, fs.Verify(ctx, 0, InvalidRevnum))

	catalog, err := revisionRoot(ctx, t, fs, 2).GetMergeinfo(ctx, []string{"/"}, MergeinfoExplicit, true, false)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"/a/b/f": "/x:1",
		"/c":     "/y:1",
		"/c/b/f": "/x:1",
	}, catalogStrings(catalog))
}

func TestVerifyDetectsBadMergeinfoCount(t *testing.T) {
	ctx, fs := newTestFS(t)
	_, root := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, root.MakeDir(ctx, "/d"))
	n, err := root.getDAG(ctx, "/d")
	require.NoError(t, err)
	require.NoError(t, n.IncrementMergeinfoCount(ctx, 1))
	require.True(t, IsCorrupt(root.Verify(ctx)))

	require.True(t, IsNoSuchRevision(fs.Verify(ctx, 0, 1)))
}
