package dataset

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestSlice(t *testing.T) {
	ds := Slice[string]{"a", "b", "c"}
	require.Equal(t, 3, ds.Len())

	v, err := ds.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "b", v)

	for _, i := range []int{-1, 3, 100} {
		_, err := ds.Get(context.Background(), i)
		require.True(t, errors.Is(err, ErrIndexOutOfRange), err)
	}
}

func TestFromFunc(t *testing.T) {
	var calls int
	ds := FromFunc(4, func(_ context.Context, i int) (int, error) {
		calls++
		return i * i, nil
	})

	v, err := ds.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 9, v)

	_, err = ds.Get(context.Background(), 4)
	require.True(t, errors.Is(err, ErrIndexOutOfRange), err)
	require.Equal(t, 1, calls)
}

func TestIndices(t *testing.T) {
	ds := Indices(5)
	require.Equal(t, 5, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		v, err := ds.Get(context.Background(), i)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
}
