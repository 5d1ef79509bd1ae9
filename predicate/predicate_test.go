package predicate_test

import (
	"testing"

	"github.com/riverstream/joins/predicate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquiJoinEq(t *testing.T) {
	p := predicate.NewEquiJoin(
		func(l int) int { return l },
		func(r string) int { return len(r) },
	)

	pair, ok := p.Eq(3, "abc")
	require.True(t, ok)
	assert.Equal(t, predicate.Pair[int, string]{Left: 3, Right: "abc"}, pair)

	_, ok = p.Eq(3, "abcd")
	assert.False(t, ok)
}

func TestEquiJoinCmp(t *testing.T) {
	p := predicate.NewEquiJoin(
		func(l int) int { return l },
		func(r int) int { return r },
	)

	assert.Equal(t, 0, p.CmpLeft(5, 5))
	assert.Negative(t, p.CmpLeft(1, 2))
	assert.Positive(t, p.CmpRight(9, 1))
	assert.Equal(t, 0, p.Cmp(4, 4))
	assert.Negative(t, p.Cmp(1, 2))
}

func TestEquiJoinHashConsistentWithEq(t *testing.T) {
	p := predicate.NewEquiJoin(
		func(l int) int { return l % 10 },
		func(r int) int { return r % 10 },
	)

	_, ok := p.Eq(13, 23)
	require.True(t, ok)
	assert.Equal(t, p.HashLeft(13), p.HashRight(23))
}

func TestSwapFlipsOrientation(t *testing.T) {
	base := predicate.NewEquiJoin(
		func(l int) int { return l },
		func(r string) int { return len(r) },
	)
	swapped := predicate.Swap[int, string, predicate.Pair[int, string]](base)

	pair, ok := swapped.Eq("abc", 3)
	require.True(t, ok)
	assert.Equal(t, predicate.Pair[int, string]{Left: 3, Right: "abc"}, pair)

	assert.Equal(t, base.CmpLeft(1, 2), swapped.CmpRight(1, 2))
	assert.Equal(t, base.CmpRight("a", "bb"), swapped.CmpLeft("a", "bb"))
	assert.Equal(t, -base.Cmp(3, "abc"), swapped.Cmp("abc", 3))
	assert.Equal(t, base.HashLeft(3), swapped.HashRight(3))
	assert.Equal(t, base.HashRight("abc"), swapped.HashLeft("abc"))
}

func TestMapLeftRewritesKeyExtraction(t *testing.T) {
	base := predicate.NewEquiJoin(
		func(l int) int { return l },
		func(r int) int { return r },
	)
	type wrapper struct{ n int }
	mapped := predicate.MapLeft[wrapper, int, int, predicate.Pair[int, int]](base, func(w wrapper) int { return w.n })

	_, ok := mapped.Eq(wrapper{n: 7}, 7)
	assert.True(t, ok)
	assert.Equal(t, 0, mapped.CmpLeft(wrapper{n: 4}, wrapper{n: 4}))
	assert.Equal(t, base.CmpRight(1, 2), mapped.CmpRight(1, 2))
}

func TestMapRightRewritesKeyExtraction(t *testing.T) {
	base := predicate.NewEquiJoin(
		func(l int) int { return l },
		func(r int) int { return r },
	)
	type wrapper struct{ n int }
	mapped := predicate.MapRight[int, wrapper, int, predicate.Pair[int, int]](base, func(w wrapper) int { return w.n })

	_, ok := mapped.Eq(7, wrapper{n: 7})
	assert.True(t, ok)
	assert.Equal(t, 0, mapped.CmpRight(wrapper{n: 4}, wrapper{n: 4}))
}

func TestIgnoreIndexSuppressesSameRun(t *testing.T) {
	base := predicate.NewEquiJoin(
		func(l int) int { return l },
		func(r int) int { return r },
	)
	wrapped := predicate.IgnoreIndex[int, int, predicate.Pair[int, int]](base)

	_, ok := wrapped.Eq(predicate.Indexed[int]{RunIndex: 1, Value: 5}, predicate.Indexed[int]{RunIndex: 1, Value: 5})
	assert.False(t, ok, "same run index must never re-emit a match")

	pair, ok := wrapped.Eq(predicate.Indexed[int]{RunIndex: 1, Value: 5}, predicate.Indexed[int]{RunIndex: 2, Value: 5})
	require.True(t, ok)
	assert.Equal(t, predicate.Pair[int, int]{Left: 5, Right: 5}, pair)

	assert.Equal(t, 0, wrapped.CmpLeft(predicate.Indexed[int]{RunIndex: 0, Value: 3}, predicate.Indexed[int]{RunIndex: 9, Value: 3}))
}
