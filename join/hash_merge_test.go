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

func smallHashMergeConfig() join.HashMergeConfig {
	return join.HashMergeConfig{MemoryLimit: 6, NumPartitions: 4, MemPartsPerDiskPart: 2, FanIn: 2}
}

func TestHashMergeEmptyInputs(t *testing.T) {
	j, err := join.NewHashMerge[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{}), stream.NewSlice([]int{}), identityEquiJoin(), memstore.New(), smallHashMergeConfig())
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHashMergeSmallEquiJoin(t *testing.T) {
	left := []kv{{0, "a"}, {1, "b"}, {2, "c"}}
	right := []kv{{0, "X"}, {2, "Y"}, {2, "Z"}, {3, "W"}}
	pred := predicate.NewEquiJoin(func(l kv) int { return l.Key }, func(r kv) int { return r.Key })

	j, err := join.NewHashMerge[kv, kv, predicate.Pair[kv, kv]](
		stream.NewSlice(left), stream.NewSlice(right), pred, memstore.New(), smallHashMergeConfig())
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[kv, kv]](j)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestHashMergeDuplicateKeysBothSides(t *testing.T) {
	left := []int{3, 3, 3, 7}
	right := []int{3, 3, 5, 7}

	j, err := join.NewHashMerge[int, int, predicate.Pair[int, int]](
		stream.NewSlice(left), stream.NewSlice(right), identityEquiJoin(), memstore.New(), smallHashMergeConfig())
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

type hmjRightTuple struct {
	Idx    int
	UserID int
}

// TestHashMergeMemoryConstrained replicates the 1,000-left/2,000-right
// memory-constrained scenario: every left id is unique, every right
// tuple's user id addresses exactly one left id, so the join must
// produce exactly one match per right tuple even though the memory
// limit forces repeated eviction and disk-partition merging.
func TestHashMergeMemoryConstrained(t *testing.T) {
	left := make([]int, 1000)
	for i := range left {
		left[i] = i
	}
	right := make([]hmjRightTuple, 2000)
	for i := range right {
		right[i] = hmjRightTuple{Idx: i, UserID: i / 2}
	}

	pred := predicate.NewEquiJoin(func(l int) int { return l }, func(r hmjRightTuple) int { return r.UserID })
	cfg := join.HashMergeConfig{
		MemoryLimit:         100,
		NumPartitions:       20,
		MemPartsPerDiskPart: 5,
		FanIn:               4,
		Flushing:            join.FlushingPolicy{Kind: join.FlushSmallest},
	}

	j, err := join.NewHashMerge[int, hmjRightTuple, predicate.Pair[int, hmjRightTuple]](
		stream.NewSlice(left), stream.NewSlice(right), pred, memstore.New(), cfg)
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, hmjRightTuple]](j)
	require.NoError(t, err)
	assert.Len(t, got, 2000)

	seen := make(map[int]int)
	for _, m := range got {
		seen[m.Right.Idx]++
	}
	assert.Len(t, seen, 2000, "every right tuple must be matched")
	for idx, count := range seen {
		assert.Equalf(t, 1, count, "right tuple %d must match exactly once", idx)
	}
}

// TestHashMergeAdaptiveFlushingMakesProgress exercises FlushAdaptive with
// AdaptiveA=0, the edge case where the balanced branch's own-size filter
// alone would accept every partition including fully empty (0,0) ones.
// Evicting an empty partition is a no-op, so if the policy doesn't also
// check that removing a candidate keeps memory balanced and exclude
// zero-tuple partitions, eviction never actually frees memory and the
// join either never completes or blows past MemoryLimit.
func TestHashMergeAdaptiveFlushingMakesProgress(t *testing.T) {
	left := make([]int, 500)
	for i := range left {
		left[i] = i
	}
	right := make([]hmjRightTuple, 1000)
	for i := range right {
		right[i] = hmjRightTuple{Idx: i, UserID: i / 2}
	}

	pred := predicate.NewEquiJoin(func(l int) int { return l }, func(r hmjRightTuple) int { return r.UserID })
	cfg := join.HashMergeConfig{
		MemoryLimit:         40,
		NumPartitions:       20,
		MemPartsPerDiskPart: 5,
		FanIn:               4,
		Flushing:            join.FlushingPolicy{Kind: join.FlushAdaptive, AdaptiveA: 0, AdaptiveB: 0.5},
	}

	j, err := join.NewHashMerge[int, hmjRightTuple, predicate.Pair[int, hmjRightTuple]](
		stream.NewSlice(left), stream.NewSlice(right), pred, memstore.New(), cfg)
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, hmjRightTuple]](j)
	require.NoError(t, err)
	assert.Len(t, got, 1000)

	seen := make(map[int]int)
	for _, m := range got {
		seen[m.Right.Idx]++
	}
	assert.Len(t, seen, 1000, "every right tuple must be matched")
	for idx, count := range seen {
		assert.Equalf(t, 1, count, "right tuple %d must match exactly once", idx)
	}
}

func TestHashMergeInvalidConfigRejected(t *testing.T) {
	_, err := join.NewHashMerge[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{}), stream.NewSlice([]int{}), identityEquiJoin(), memstore.New(),
		join.HashMergeConfig{MemoryLimit: 6, NumPartitions: 4, MemPartsPerDiskPart: 3, FanIn: 2})
	assert.ErrorIs(t, err, join.ErrInvalidConfig)
}
