package predicate

// swap presents an inner Combined predicate with left and right
// exchanged — the orientation wrapper spec.md §9 and the original's
// predicate/swap.rs and switch.rs both describe (the two Rust files are
// near-duplicates; Go's single Combined interface needs only one).
type swap[L, R, O any] struct {
	inner Combined[L, R, O]
}

// Swap returns a Combined predicate operating on (R, L) that delegates
// to inner with the arguments flipped.
func Swap[L, R, O any](inner Combined[L, R, O]) Combined[R, L, O] {
	return swap[L, R, O]{inner: inner}
}

func (s swap[L, R, O]) Eq(right R, left L) (O, bool) {
	return s.inner.Eq(left, right)
}

func (s swap[L, R, O]) CmpLeft(a, b R) int {
	return s.inner.CmpRight(a, b)
}

func (s swap[L, R, O]) CmpRight(a, b L) int {
	return s.inner.CmpLeft(a, b)
}

func (s swap[L, R, O]) Cmp(right R, left L) int {
	return -s.inner.Cmp(left, right)
}

func (s swap[L, R, O]) HashLeft(r R) uint64 {
	return s.inner.HashRight(r)
}

func (s swap[L, R, O]) HashRight(l L) uint64 {
	return s.inner.HashLeft(l)
}
