package join

import (
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/stream"
)

type bnlPhase int

const (
	bnlFilling bnlPhase = iota
	bnlScanning
)

// BlockNestedLoop batches NestedLoop's per-tuple rescans: it fills a
// left buffer of up to MemoryLimit tuples, then scans all of right once
// against the whole buffer before refilling, per spec.md §4.5. There is
// no block-nested-loop in the retrieved original source (its mod.rs
// only declares the module); this follows NestedLoop's peek/rescan
// shape, generalized from one buffered left tuple to a bounded slice.
type BlockNestedLoop[L, R, O any] struct {
	left     stream.Source[L]
	leftDone bool
	right    stream.RescanSource[R]
	pred     predicate.Predicate[L, R, O]
	limit    int

	buffer []L
	phase  bnlPhase

	curRight     R
	haveCurRight bool
	bufIdx       int
}

// NewBlockNestedLoop builds a block-nested-loop join buffering up to
// cfg.MemoryLimit left tuples per block. right must support Rescan.
func NewBlockNestedLoop[L, R, O any](left stream.Source[L], right stream.RescanSource[R], pred predicate.Predicate[L, R, O], cfg MemoryConfig) (*BlockNestedLoop[L, R, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BlockNestedLoop[L, R, O]{left: left, right: right, pred: pred, limit: cfg.MemoryLimit}, nil
}

func (j *BlockNestedLoop[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		switch j.phase {
		case bnlFilling:
			if len(j.buffer) >= j.limit || j.leftDone {
				j.phase = bnlScanning
				j.haveCurRight = false
				continue
			}
			res, err := j.left.Poll()
			if err != nil {
				return stream.Result[O]{}, err
			}
			switch res.Status {
			case stream.Ready:
				j.buffer = append(j.buffer, res.Value)
			case stream.NotReady:
				return stream.NotReadyResult[O](), nil
			case stream.Done:
				j.leftDone = true
			}

		case bnlScanning:
			if !j.haveCurRight {
				rres, err := j.right.Poll()
				if err != nil {
					return stream.Result[O]{}, err
				}
				switch rres.Status {
				case stream.Ready:
					j.curRight = rres.Value
					j.haveCurRight = true
					j.bufIdx = 0
				case stream.NotReady:
					return stream.NotReadyResult[O](), nil
				case stream.Done:
					if j.leftDone && len(j.buffer) == 0 {
						return stream.DoneResult[O](), nil
					}
					j.right.Rescan()
					j.buffer = j.buffer[:0]
					j.phase = bnlFilling
				}
				continue
			}

			if j.bufIdx >= len(j.buffer) {
				j.haveCurRight = false
				continue
			}
			l := j.buffer[j.bufIdx]
			j.bufIdx++
			if out, ok := j.pred.Eq(l, j.curRight); ok {
				return stream.ReadyResult(out), nil
			}
		}
	}
}

var _ stream.Source[int] = (*BlockNestedLoop[int, int, int])(nil)
