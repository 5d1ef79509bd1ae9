package join_test

import (
	"testing"

	"github.com/riverstream/joins/join"
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockNestedLoopEmptyInputs(t *testing.T) {
	j, err := join.NewBlockNestedLoop[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{}), stream.NewSlice([]int{}), identityEquiJoin(), join.MemoryConfig{MemoryLimit: 2})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBlockNestedLoopSmallEquiJoin(t *testing.T) {
	left := []kv{{0, "a"}, {1, "b"}, {2, "c"}}
	right := []kv{{0, "X"}, {2, "Y"}, {2, "Z"}, {3, "W"}}
	pred := predicate.NewEquiJoin(func(l kv) int { return l.Key }, func(r kv) int { return r.Key })

	j, err := join.NewBlockNestedLoop[kv, kv, predicate.Pair[kv, kv]](
		stream.NewSlice(left), stream.NewSlice(right), pred, join.MemoryConfig{MemoryLimit: 2})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[kv, kv]](j)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBlockNestedLoopWithBlockSizeOne(t *testing.T) {
	j, err := join.NewBlockNestedLoop[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{3, 3, 3, 7}), stream.NewSlice([]int{3, 3, 5, 7}), identityEquiJoin(), join.MemoryConfig{MemoryLimit: 1})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestBlockNestedLoopInvalidConfig(t *testing.T) {
	_, err := join.NewBlockNestedLoop[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{}), stream.NewSlice([]int{}), identityEquiJoin(), join.MemoryConfig{MemoryLimit: 0})
	assert.ErrorIs(t, err, join.ErrInvalidConfig)
}
