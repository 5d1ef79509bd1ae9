package join

import (
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/stream"
)

// NestedLoop implements the classic nested-loop join: hold a peek of
// the current left tuple, scan the entirety of right against it, and
// rescan right for every left tuple. Grounded directly on the
// original's join/nested_loop.rs NestedLoopJoin.
type NestedLoop[L, R, O any] struct {
	left     stream.Source[L]
	leftPeek *L
	leftDone bool
	right    stream.RescanSource[R]
	pred     predicate.Predicate[L, R, O]
}

// NewNestedLoop builds a nested-loop join. right must support Rescan.
func NewNestedLoop[L, R, O any](left stream.Source[L], right stream.RescanSource[R], pred predicate.Predicate[L, R, O]) *NestedLoop[L, R, O] {
	return &NestedLoop[L, R, O]{left: left, right: right, pred: pred}
}

func (j *NestedLoop[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		if j.leftPeek == nil && !j.leftDone {
			res, err := j.left.Poll()
			if err != nil {
				return stream.Result[O]{}, err
			}
			switch res.Status {
			case stream.Ready:
				v := res.Value
				j.leftPeek = &v
			case stream.NotReady:
				return stream.NotReadyResult[O](), nil
			case stream.Done:
				j.leftDone = true
			}
		}
		if j.leftDone {
			return stream.DoneResult[O](), nil
		}

		rres, err := j.right.Poll()
		if err != nil {
			return stream.Result[O]{}, err
		}
		switch rres.Status {
		case stream.NotReady:
			return stream.NotReadyResult[O](), nil
		case stream.Done:
			j.leftPeek = nil
			j.right.Rescan()
		case stream.Ready:
			if out, ok := j.pred.Eq(*j.leftPeek, rres.Value); ok {
				return stream.ReadyResult(out), nil
			}
		}
	}
}

var _ stream.Source[int] = (*NestedLoop[int, int, int])(nil)
