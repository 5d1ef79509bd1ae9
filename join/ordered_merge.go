package join

import (
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/stream"
)

// OrderedMerge implements ordered-merge join over two already-sorted
// inputs: no spilling, no buffering beyond the current equality group.
// Grounded on the original's join/ordered_merge.rs OrderedMergeJoin,
// translated from its Peekable<Stream>-based replay loop to explicit
// one-slot peek caches, since Go has no stock peekable-stream adapter.
type OrderedMerge[L, R, O any] struct {
	left  stream.Source[L]
	right stream.Source[R]
	pred  predicate.MergePredicate[L, R, O]

	leftPeek  *L
	leftDone  bool
	rightPeek *R
	rightDone bool

	eqBuffer   []L
	eqCursor   int
	replayMode bool
}

// NewOrderedMerge builds an ordered-merge join. Both left and right
// must already be sorted in pred's respective orders.
func NewOrderedMerge[L, R, O any](left stream.Source[L], right stream.Source[R], pred predicate.MergePredicate[L, R, O]) *OrderedMerge[L, R, O] {
	return &OrderedMerge[L, R, O]{left: left, right: right, pred: pred}
}

type peekStatus int

const (
	peekReady peekStatus = iota
	peekNotReady
	peekDone
)

func (j *OrderedMerge[L, R, O]) peekLeft() (L, peekStatus, error) {
	if j.leftPeek != nil {
		return *j.leftPeek, peekReady, nil
	}
	if j.leftDone {
		var zero L
		return zero, peekDone, nil
	}
	res, err := j.left.Poll()
	if err != nil {
		var zero L
		return zero, peekDone, err
	}
	switch res.Status {
	case stream.Ready:
		v := res.Value
		j.leftPeek = &v
		return v, peekReady, nil
	case stream.NotReady:
		var zero L
		return zero, peekNotReady, nil
	default:
		j.leftDone = true
		var zero L
		return zero, peekDone, nil
	}
}

func (j *OrderedMerge[L, R, O]) peekRight() (R, peekStatus, error) {
	if j.rightPeek != nil {
		return *j.rightPeek, peekReady, nil
	}
	if j.rightDone {
		var zero R
		return zero, peekDone, nil
	}
	res, err := j.right.Poll()
	if err != nil {
		var zero R
		return zero, peekDone, err
	}
	switch res.Status {
	case stream.Ready:
		v := res.Value
		j.rightPeek = &v
		return v, peekReady, nil
	case stream.NotReady:
		var zero R
		return zero, peekNotReady, nil
	default:
		j.rightDone = true
		var zero R
		return zero, peekDone, nil
	}
}

func (j *OrderedMerge[L, R, O]) consumeLeft()  { j.leftPeek = nil }
func (j *OrderedMerge[L, R, O]) consumeRight() { j.rightPeek = nil }

// Poll runs the merge state machine described in spec.md §4.3: advance
// the lesser side, buffer the left side of an equality group, and
// replay that buffer against every right tuple sharing its key before
// moving on.
func (j *OrderedMerge[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		var leftVal L
		var haveLeft bool

		if j.replayMode {
			leftVal = j.eqBuffer[j.eqCursor]
			j.eqCursor++
			haveLeft = true
		} else {
			v, status, err := j.peekLeft()
			if err != nil {
				return stream.Result[O]{}, err
			}
			switch status {
			case peekNotReady:
				return stream.NotReadyResult[O](), nil
			case peekDone:
				haveLeft = false
			default:
				leftVal = v
				haveLeft = true
			}
		}

		rightVal, rstatus, err := j.peekRight()
		if err != nil {
			return stream.Result[O]{}, err
		}
		var haveRight bool
		switch rstatus {
		case peekNotReady:
			return stream.NotReadyResult[O](), nil
		case peekDone:
			haveRight = false
		default:
			haveRight = true
		}

		// Left is exhausted but a buffered equality group remains: move to
		// the next right tuple and replay the group against it.
		if !haveLeft && haveRight && len(j.eqBuffer) > 0 {
			j.replayMode = true
			j.consumeRight()
			continue
		}
		if !haveLeft || !haveRight {
			return stream.DoneResult[O](), nil
		}

		order := j.pred.Cmp(leftVal, rightVal)
		var matched O
		var isMatch bool
		if order == 0 {
			matched, isMatch = j.pred.Eq(leftVal, rightVal)
		}

		switch {
		case order < 0:
			if j.replayMode {
				j.eqBuffer = j.eqBuffer[:0]
				j.eqCursor = 0
				j.replayMode = false
			} else {
				j.consumeLeft()
			}
		case order > 0:
			if len(j.eqBuffer) > 0 {
				j.replayMode = true
			}
			j.consumeRight()
		default:
			if j.replayMode {
				if j.eqCursor >= len(j.eqBuffer) {
					j.consumeRight()
					j.eqCursor = 0
				}
			} else {
				j.eqBuffer = append(j.eqBuffer, leftVal)
				j.consumeLeft()
			}
		}

		if isMatch {
			return stream.ReadyResult(matched), nil
		}
	}
}

var _ stream.Source[int] = (*OrderedMerge[int, int, int])(nil)
