package predicate

import (
	"cmp"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// EquiJoin is the key-equality specialization of predicate.mod.rs/
// definition.rs's EquiJoin: built from two key extractors, eq matches
// when the extracted keys compare equal, and the Merge/Hash refinements
// are derived from the key's ordering and hash.
type EquiJoin[L, R any, K cmp.Ordered] struct {
	keyLeft  func(L) K
	keyRight func(R) K
	hashKey  func(K) uint64
}

// NewEquiJoin builds an EquiJoin using the default hash (xxhash over the
// key's default formatting). Use NewEquiJoinWithHash to supply a cheaper
// or collision-resistant hash for a specific key type.
func NewEquiJoin[L, R any, K cmp.Ordered](keyLeft func(L) K, keyRight func(R) K) EquiJoin[L, R, K] {
	return NewEquiJoinWithHash(keyLeft, keyRight, defaultHash[K])
}

// NewEquiJoinWithHash builds an EquiJoin with an explicit key hash.
func NewEquiJoinWithHash[L, R any, K cmp.Ordered](keyLeft func(L) K, keyRight func(R) K, hashKey func(K) uint64) EquiJoin[L, R, K] {
	return EquiJoin[L, R, K]{keyLeft: keyLeft, keyRight: keyRight, hashKey: hashKey}
}

func defaultHash[K cmp.Ordered](k K) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%v", k))
}

// Eq implements Predicate[L, R, (L, R)].
func (e EquiJoin[L, R, K]) Eq(left L, right R) (Pair[L, R], bool) {
	if e.keyLeft(left) == e.keyRight(right) {
		return Pair[L, R]{Left: left, Right: right}, true
	}
	return Pair[L, R]{}, false
}

func (e EquiJoin[L, R, K]) CmpLeft(a, b L) int {
	return cmp.Compare(e.keyLeft(a), e.keyLeft(b))
}

func (e EquiJoin[L, R, K]) CmpRight(a, b R) int {
	return cmp.Compare(e.keyRight(a), e.keyRight(b))
}

func (e EquiJoin[L, R, K]) Cmp(left L, right R) int {
	return cmp.Compare(e.keyLeft(left), e.keyRight(right))
}

func (e EquiJoin[L, R, K]) HashLeft(l L) uint64 {
	return e.hashKey(e.keyLeft(l))
}

func (e EquiJoin[L, R, K]) HashRight(r R) uint64 {
	return e.hashKey(e.keyRight(r))
}

// Pair is the output of an EquiJoin match: the matched left and right
// tuples, cloned the way the original's EquiJoin::eq clones both sides.
type Pair[L, R any] struct {
	Left  L
	Right R
}

var (
	_ Predicate[int, int, Pair[int, int]]      = EquiJoin[int, int, int]{}
	_ MergePredicate[int, int, Pair[int, int]] = EquiJoin[int, int, int]{}
	_ HashPredicate[int, int, Pair[int, int]]  = EquiJoin[int, int, int]{}
)
