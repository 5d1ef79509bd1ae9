// Package kway merges already-sorted runs into one ascending stream.
// Grounded on the original's join/sort_merge.rs SortMerger, which
// re-peeks every way on each poll and picks the minimum via
// itertools::minmax_by. Go has no peekable-iterator idiom as cheap as
// Rust's, so kway.Merger instead keeps one buffered head per way in a
// container/heap — no suitable heap library appears anywhere in the
// example pack, so this is the one place the module reaches for the
// standard library's heap by necessity rather than preference.
package kway

import (
	"container/heap"

	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/stream"
)

// Less compares two values of T, returning true if a sorts before b,
// matching the ordering the ways were produced in.
type Less[T any] func(a, b T) bool

// Merger pulls the minimum head across all of its ways on every Poll,
// producing one globally-sorted stream of T. Ways are assumed to
// already be sorted individually; Merger does no sorting of its own.
type Merger[T any] struct {
	ways []stream.Source[T]
	less Less[T]
	h    *wayHeap[T]
	// pending holds ways whose current head has not yet been fetched
	// (either never polled, or the heap popped its last value).
	pending []int
}

// New builds a Merger over ways, comparing heads with less.
func New[T any](ways []stream.Source[T], less Less[T]) *Merger[T] {
	pending := make([]int, len(ways))
	for i := range ways {
		pending[i] = i
	}
	return &Merger[T]{
		ways:    ways,
		less:    less,
		h:       &wayHeap[T]{less: less},
		pending: pending,
	}
}

type wayItem[T any] struct {
	way   int
	value T
}

type wayHeap[T any] struct {
	items []wayItem[T]
	less  Less[T]
}

func (h *wayHeap[T]) Len() int { return len(h.items) }
func (h *wayHeap[T]) Less(i, j int) bool {
	return h.less(h.items[i].value, h.items[j].value)
}
func (h *wayHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *wayHeap[T]) Push(x any)    { h.items = append(h.items, x.(wayItem[T])) }
func (h *wayHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Poll advances the merge by one value: it fills the heap with fresh
// heads from any pending way, and if every way has either produced a
// head or finished, pops and returns the minimum, tagged with the
// index of the run it came from (spec.md §4.9: "Produces (run_id,
// tuple) pairs in sorted order"). If a pending way isn't ready yet,
// Poll returns NotReady without losing progress on the ways that
// already reported.
func (m *Merger[T]) Poll() (stream.Result[predicate.Indexed[T]], error) {
	stillPending := m.pending[:0]
	for _, way := range m.pending {
		res, err := m.ways[way].Poll()
		if err != nil {
			return stream.Result[predicate.Indexed[T]]{}, err
		}
		switch res.Status {
		case stream.Ready:
			heap.Push(m.h, wayItem[T]{way: way, value: res.Value})
		case stream.NotReady:
			stillPending = append(stillPending, way)
		case stream.Done:
			// exhausted way contributes nothing further
		}
	}
	m.pending = stillPending

	if len(m.pending) > 0 {
		return stream.NotReadyResult[predicate.Indexed[T]](), nil
	}

	if m.h.Len() == 0 {
		return stream.DoneResult[predicate.Indexed[T]](), nil
	}

	top := heap.Pop(m.h).(wayItem[T])
	m.pending = append(m.pending, top.way)
	return stream.ReadyResult(predicate.Indexed[T]{RunIndex: top.way, Value: top.value}), nil
}

var _ stream.Source[predicate.Indexed[int]] = (*Merger[int])(nil)

// unindexed adapts a Source[Indexed[T]] into a Source[T] by discarding
// the run index, for callers like sort-merge that have no use for
// which run a value came from.
type unindexed[T any] struct {
	inner stream.Source[predicate.Indexed[T]]
}

// Unindexed strips the run-index tag a Merger attaches to every value.
func Unindexed[T any](inner stream.Source[predicate.Indexed[T]]) stream.Source[T] {
	return unindexed[T]{inner: inner}
}

func (u unindexed[T]) Poll() (stream.Result[T], error) {
	res, err := u.inner.Poll()
	if err != nil {
		return stream.Result[T]{}, err
	}
	switch res.Status {
	case stream.Ready:
		return stream.ReadyResult(res.Value.Value), nil
	case stream.NotReady:
		return stream.NotReadyResult[T](), nil
	default:
		return stream.DoneResult[T](), nil
	}
}

var _ stream.Source[int] = unindexed[int]{}
