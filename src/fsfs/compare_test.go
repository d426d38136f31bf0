package fsfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentsAndPropsChanged(t *testing.T) {
	ctx, fs := newTestFS(t)
	r1 := edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeFile(ctx, "/a"))
		require.NoError(t, root.MakeFile(ctx, "/b"))
		writeFile(ctx, t, root, "/a", "same")
		writeFile(ctx, t, root, "/b", "same")
		require.NoError(t, root.ChangeNodeProp(ctx, "/a", "p", ptr("v")))
		require.NoError(t, root.MakeDir(ctx, "/d"))
	})
	r2 := edit(ctx, t, fs, func(root *Root) {
		writeFile(ctx, t, root, "/a", "different")
		require.NoError(t, root.ChangeNodeProp(ctx, "/b", "p", ptr("v")))
	})
	root1, root2 := revisionRoot(ctx, t, fs, r1), revisionRoot(ctx, t, fs, r2)

	tests := []struct {
		name           string
		root1          *Root
		path1          string
		root2          *Root
		path2          string
		contentChanged bool
		propsChanged   bool
	}{
		{"same node", root1, "/a", root1, "/a", false, false},
		{"equal text stored twice", root1, "/a", root1, "/b", false, true},
		{"edited text", root1, "/a", root2, "/a", true, false},
		{"props set on a copy of the text", root1, "/b", root2, "/b", false, true},
		{"equal props across revisions", root2, "/b", root1, "/a", false, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			changed, err := ContentsChanged(ctx, test.root1, test.path1, test.root2, test.path2)
			require.NoError(t, err)
			require.Equal(t, test.contentChanged, changed)
			changed, err = PropsChanged(ctx, test.root1, test.path1, test.root2, test.path2)
			require.NoError(t, err)
			require.Equal(t, test.propsChanged, changed)
		})
	}

	_, err := ContentsChanged(ctx, root1, "/d", root2, "/d")
	require.True(t, IsNotFile(err))
	changed, err := PropsChanged(ctx, root1, "/d", root2, "/d")
	require.NoError(t, err)
	require.False(t, changed)
	_, err = PropsChanged(ctx, root1, "/nope", root2, "/d")
	require.True(t, IsNotFound(err))

	_, other := newTestFS(t)
	_, err = ContentsChanged(ctx, root1, "/a", revisionRoot(ctx, t, other, 0), "/")
	require.True(t, IsUnsupported(err))
	_, err = PropsChanged(ctx, root1, "/a", revisionRoot(ctx, t, other, 0), "/")
	require.True(t, IsUnsupported(err))
}
