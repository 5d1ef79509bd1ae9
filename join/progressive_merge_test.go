package join_test

import (
	"testing"

	"github.com/riverstream/joins/join"
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/storage/memstore"
	"github.com/riverstream/joins/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressiveMergeEmptyInputs(t *testing.T) {
	j, err := join.NewProgressiveMerge[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{}), stream.NewSlice([]int{}), identityEquiJoin(), memstore.New(), join.MemoryConfig{MemoryLimit: 4})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestProgressiveMergeSmallEquiJoin(t *testing.T) {
	left := []kv{{0, "a"}, {1, "b"}, {2, "c"}}
	right := []kv{{0, "X"}, {2, "Y"}, {2, "Z"}, {3, "W"}}
	pred := predicate.NewEquiJoin(func(l kv) int { return l.Key }, func(r kv) int { return r.Key })

	j, err := join.NewProgressiveMerge[kv, kv, predicate.Pair[kv, kv]](
		stream.NewSlice(left), stream.NewSlice(right), pred, memstore.New(), join.MemoryConfig{MemoryLimit: 2})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[kv, kv]](j)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestProgressiveMergeNoDuplicatesAcrossFlushes(t *testing.T) {
	left := []int{3, 3, 3, 7}
	right := []int{3, 3, 5, 7}

	j, err := join.NewProgressiveMerge[int, int, predicate.Pair[int, int]](
		stream.NewSlice(left), stream.NewSlice(right), identityEquiJoin(), memstore.New(), join.MemoryConfig{MemoryLimit: 2})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Len(t, got, 7, "no pair may be emitted twice across the input-phase flushes and the output-phase merge")
}

func TestProgressiveMergeEarlyEmissionBeforeInputsExhausted(t *testing.T) {
	n := 100
	left := make([]int, n)
	right := make([]int, n)
	for i := 0; i < n; i++ {
		left[i] = i
		right[i] = i
	}

	j, err := join.NewProgressiveMerge[int, int, predicate.Pair[int, int]](
		stream.NewSlice(left), stream.NewSlice(right), identityEquiJoin(), memstore.New(), join.MemoryConfig{MemoryLimit: 20})
	require.NoError(t, err)

	var emitted int
	for i := 0; i < n; i++ {
		res, err := j.Poll()
		require.NoError(t, err)
		if res.Status == stream.Ready {
			emitted++
			break
		}
	}
	assert.Positive(t, emitted, "at least one match must be emitted before either input is fully consumed")
}
