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

func TestXJoinEmptyInputs(t *testing.T) {
	j, err := join.NewXJoin[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{}), stream.NewSlice([]int{}), identityEquiJoin(), memstore.New(), join.MemoryConfig{MemoryLimit: 6})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestXJoinSmallEquiJoin(t *testing.T) {
	left := []kv{{0, "a"}, {1, "b"}, {2, "c"}}
	right := []kv{{0, "X"}, {2, "Y"}, {2, "Z"}, {3, "W"}}
	pred := predicate.NewEquiJoin(func(l kv) int { return l.Key }, func(r kv) int { return r.Key })

	j, err := join.NewXJoin[kv, kv, predicate.Pair[kv, kv]](
		stream.NewSlice(left), stream.NewSlice(right), pred, memstore.New(), join.MemoryConfig{MemoryLimit: 6})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[kv, kv]](j)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestXJoinDuplicateKeysBothSides(t *testing.T) {
	left := []int{3, 3, 3, 7}
	right := []int{3, 3, 5, 7}

	j, err := join.NewXJoin[int, int, predicate.Pair[int, int]](
		stream.NewSlice(left), stream.NewSlice(right), identityEquiJoin(), memstore.New(), join.MemoryConfig{MemoryLimit: 6})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Len(t, got, 7)
}

func TestXJoinSpillsToDiskUnderMemoryPressure(t *testing.T) {
	n := 60
	left := make([]int, n)
	right := make([]int, n)
	for i := 0; i < n; i++ {
		left[i] = i
		right[i] = i
	}

	backend := memstore.New()
	j, err := join.NewXJoin[int, int, predicate.Pair[int, int]](
		stream.NewSlice(left), stream.NewSlice(right), identityEquiJoin(), backend, join.MemoryConfig{MemoryLimit: 6})
	require.NoError(t, err)

	got, err := stream.Drain[predicate.Pair[int, int]](j)
	require.NoError(t, err)
	assert.Len(t, got, n, "every matching pair must still be found once eviction has spilled partitions to disk")
	assert.Positive(t, backend.Len(), "a small memory limit against 60 distinct keys should force at least one eviction")
}

// blockedAfter reports NotReady once every period polls (simulating a
// producer that occasionally stalls), otherwise delegates to inner.
type blockedAfter struct {
	inner  stream.Source[int]
	period int
	count  int
}

func (b *blockedAfter) Poll() (stream.Result[int], error) {
	b.count++
	if b.period > 0 && b.count%b.period == 0 {
		return stream.NotReadyResult[int](), nil
	}
	return b.inner.Poll()
}

func TestXJoinNoDuplicatesUnderBlockedInputs(t *testing.T) {
	n := 40
	left := make([]int, n)
	right := make([]int, n)
	for i := 0; i < n; i++ {
		left[i] = i
		right[i] = i
	}

	j, err := join.NewXJoin[int, int, predicate.Pair[int, int]](
		&blockedAfter{inner: stream.NewSlice(left), period: 3},
		&blockedAfter{inner: stream.NewSlice(right), period: 4},
		identityEquiJoin(), memstore.New(), join.MemoryConfig{MemoryLimit: 6})
	require.NoError(t, err)

	seen := make(map[int]int)
	for {
		res, err := j.Poll()
		require.NoError(t, err)
		if res.Status == stream.Done {
			break
		}
		if res.Status == stream.Ready {
			seen[res.Value.Left]++
		}
	}
	assert.Len(t, seen, n, "every key must be matched despite both inputs repeatedly blocking")
	for k, count := range seen {
		assert.Equalf(t, 1, count, "key %d must be emitted exactly once", k)
	}
}

func TestXJoinInvalidConfigRejected(t *testing.T) {
	_, err := join.NewXJoin[int, int, predicate.Pair[int, int]](
		stream.NewSlice([]int{}), stream.NewSlice([]int{}), identityEquiJoin(), memstore.New(), join.MemoryConfig{MemoryLimit: 2})
	assert.ErrorIs(t, err, join.ErrInvalidConfig)
}
