package stream

import (
	"context"
	"testing"

	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestIsEOS(t *testing.T) {
	require.True(t, IsEOS(EOS()))
	require.True(t, IsEOS(errors.Wrap(EOS(), "wrapped")))
	require.False(t, IsEOS(errors.New("other")))
}

type sliceIterator struct {
	xs  []int
	pos int
}

func (s *sliceIterator) Next(ctx context.Context, dst *int) error {
	if s.pos >= len(s.xs) {
		return EOS()
	}
	*dst = s.xs[s.pos]
	s.pos++
	return nil
}

func TestSlice(t *testing.T) {
	xs, err := Slice[int](context.Background(), &sliceIterator{xs: []int{1, 2, 3}}, func(x int) int { return x })
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, xs)
}
