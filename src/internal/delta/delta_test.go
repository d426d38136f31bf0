package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	source := []byte("hello, world")
	tests := []struct {
		name   string
		window *Window
		want   string
	}{
		{
			name: "new data only",
			window: &Window{
				TargetLength: 3,
				Ops:          []Op{{Kind: New, Length: 3}},
				NewData:      []byte("abc"),
			},
			want: "abc",
		},
		{
			name: "source view",
			window: &Window{
				SourceOffset: 7,
				SourceLength: 5,
				TargetLength: 11,
				Ops: []Op{
					{Kind: New, Length: 6},
					{Kind: Source, Offset: 0, Length: 5},
				},
				NewData: []byte("hello "),
			},
			want: "hello world",
		},
		{
			name: "overlapping target copy repeats",
			window: &Window{
				TargetLength: 7,
				Ops: []Op{
					{Kind: New, Length: 2},
					{Kind: Target, Offset: 0, Length: 5},
				},
				NewData: []byte("ab"),
			},
			want: "abababa",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Apply(source, test.window, nil)
			require.NoError(t, err)
			require.Equal(t, test.want, string(got))
		})
	}
}

func TestApplyAppendsAcrossWindows(t *testing.T) {
	source := []byte("0123456789")
	target, err := Apply(source, &Window{SourceLength: 5, TargetLength: 5, Ops: []Op{{Kind: Source, Length: 5}}}, nil)
	require.NoError(t, err)
	// Target offsets are relative to the window's own output.
	target, err = Apply(source, &Window{
		SourceOffset: 5,
		SourceLength: 5,
		TargetLength: 7,
		Ops: []Op{
			{Kind: Source, Offset: 3, Length: 2},
			{Kind: Target, Offset: 0, Length: 2},
			{Kind: New, Length: 3},
		},
		NewData: []byte("xyz"),
	}, target)
	require.NoError(t, err)
	require.Equal(t, "012348989xyz", string(target))
}

func TestApplyRejectsBadWindows(t *testing.T) {
	source := []byte("abc")
	for name, w := range map[string]*Window{
		"view past source":  {SourceOffset: 2, SourceLength: 5},
		"short output":      {TargetLength: 2, Ops: []Op{{Kind: New, Length: 1}}, NewData: []byte("x")},
		"long output":       {TargetLength: 1, Ops: []Op{{Kind: New, Length: 2}}, NewData: []byte("xy")},
		"new data overrun":  {TargetLength: 2, Ops: []Op{{Kind: New, Length: 2}}, NewData: []byte("x")},
		"target from ahead": {TargetLength: 1, Ops: []Op{{Kind: Target, Offset: 0, Length: 1}}},
		"source overrun":    {SourceLength: 1, TargetLength: 2, Ops: []Op{{Kind: Source, Length: 2}}},
		"unknown kind":      {TargetLength: 1, Ops: []Op{{Kind: OpKind(9), Length: 1}}},
	} {
		_, err := Apply(source, w, nil)
		require.Error(t, err, name)
	}
}
