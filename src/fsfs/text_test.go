package fsfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyTextChecksum(t *testing.T) {
	ctx, fs := newTestFS(t)
	_, root := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, root.MakeFile(ctx, "/f"))

	w, err := root.ApplyText(ctx, "/f", Checksum([]byte("right")))
	require.NoError(t, err)
	_, err = w.Write([]byte("wrong"))
	require.NoError(t, err)
	require.True(t, IsChecksumMismatch(w.Close()))
	require.Equal(t, "", readFile(ctx, t, root, "/f"))
	_, err = w.Write([]byte("more"))
	require.Error(t, err)

	w, err = root.ApplyText(ctx, "/f", Checksum([]byte("right")))
	require.NoError(t, err)
	_, err = w.Write([]byte("right"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.Equal(t, "right", readFile(ctx, t, root, "/f"))

	_, err = root.ApplyText(ctx, "/", "")
	require.True(t, IsNotFile(err))
	_, err = root.ApplyText(ctx, "/missing", "")
	require.True(t, IsNotFound(err))
	_, err = revisionRoot(ctx, t, fs, 0).ApplyText(ctx, "/f", "")
	require.True(t, IsNotTxnRoot(err))
}

func TestApplyTextDelta(t *testing.T) {
	ctx, fs := newTestFS(t)
	edit(ctx, t, fs, func(root *Root) {
		require.NoError(t, root.MakeFile(ctx, "/f"))
		writeFile(ctx, t, root, "/f", "hello world")
	})
	_, root := begin(ctx, t, fs, TxnFlags{})
	window := &DeltaWindow{
		SourceOffset: 0,
		SourceLength: 11,
		TargetLength: 11,
		Ops: []DeltaOp{
			{Kind: DeltaSource, Offset: 0, Length: 6},
			{Kind: DeltaNew, Length: 5},
		},
		NewData: []byte("there"),
	}

	// A stale base is refused and leaves the transaction writable.
	_, err := root.ApplyTextDelta(ctx, "/f", Checksum([]byte("hello")), "")
	require.True(t, IsChecksumMismatch(err))

	w, err := root.ApplyTextDelta(ctx, "/f", Checksum([]byte("hello world")), Checksum([]byte("hello there")))
	require.NoError(t, err)
	require.NoError(t, w.WriteWindow(window))
	require.NoError(t, w.Close())
	require.Equal(t, "hello there", readFile(ctx, t, root, "/f"))

	w, err = root.ApplyTextDelta(ctx, "/f", "", "")
	require.NoError(t, err)
	require.Error(t, w.WriteWindow(&DeltaWindow{SourceLength: 100}))
	require.NoError(t, w.Close())
}

func TestOneTextWriterPerTxn(t *testing.T) {
	ctx, fs := newTestFS(t)
	txn, root := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, root.MakeFile(ctx, "/a"))
	require.NoError(t, root.MakeFile(ctx, "/b"))

	w, err := root.ApplyText(ctx, "/a", "")
	require.NoError(t, err)
	_, err = root.ApplyText(ctx, "/b", "")
	require.True(t, IsTxnBusy(err))
	// The flag is shared by every root of the transaction.
	again, err := txn.Root(ctx)
	require.NoError(t, err)
	_, err = again.ApplyText(ctx, "/b", "")
	require.True(t, IsTxnBusy(err))

	// Other transactions are not affected.
	_, other := begin(ctx, t, fs, TxnFlags{})
	require.NoError(t, other.MakeFile(ctx, "/c"))
	writeFile(ctx, t, other, "/c", "c")

	require.NoError(t, w.Close())
	writeFile(ctx, t, root, "/b", "b")
	require.Equal(t, "b", readFile(ctx, t, again, "/b"))
}
