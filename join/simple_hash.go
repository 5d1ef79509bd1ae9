package join

import (
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/stream"
)

// SimpleHash builds a hash table over left up to MemoryLimit tuples,
// probes it with every right tuple, and — if left wasn't exhausted
// before the cap was hit — rescans right and resumes building with a
// fresh table. Grounded directly on the original's
// join/simple_hash.rs SimpleHashJoin.
type SimpleHash[L, R, O any] struct {
	left     stream.Source[L]
	leftDone bool
	right    stream.RescanSource[R]
	pred     predicate.HashPredicate[L, R, O]
	limit    int

	table        map[uint64][]L
	tableEntries int
	outputBuffer []O
}

// NewSimpleHash builds a simple hash join with a left-table cap of
// cfg.MemoryLimit tuples. right must support Rescan.
func NewSimpleHash[L, R, O any](left stream.Source[L], right stream.RescanSource[R], pred predicate.HashPredicate[L, R, O], cfg MemoryConfig) (*SimpleHash[L, R, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SimpleHash[L, R, O]{
		left:  left,
		right: right,
		pred:  pred,
		limit: cfg.MemoryLimit,
		table: make(map[uint64][]L),
	}, nil
}

func (j *SimpleHash[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		if len(j.outputBuffer) > 0 {
			v := j.outputBuffer[0]
			j.outputBuffer = j.outputBuffer[1:]
			return stream.ReadyResult(v), nil
		}

		if j.tableEntries < j.limit && !j.leftDone {
			res, err := j.left.Poll()
			if err != nil {
				return stream.Result[O]{}, err
			}
			switch res.Status {
			case stream.Ready:
				h := j.pred.HashLeft(res.Value)
				j.table[h] = append(j.table[h], res.Value)
				j.tableEntries++
			case stream.NotReady:
				return stream.NotReadyResult[O](), nil
			case stream.Done:
				j.leftDone = true
			}
			continue
		}

		rres, err := j.right.Poll()
		if err != nil {
			return stream.Result[O]{}, err
		}
		switch rres.Status {
		case stream.Ready:
			h := j.pred.HashRight(rres.Value)
			for _, cand := range j.table[h] {
				if out, ok := j.pred.Eq(cand, rres.Value); ok {
					j.outputBuffer = append(j.outputBuffer, out)
				}
			}
		case stream.NotReady:
			return stream.NotReadyResult[O](), nil
		case stream.Done:
			if j.leftDone {
				return stream.DoneResult[O](), nil
			}
			j.right.Rescan()
			j.table = make(map[uint64][]L)
			j.tableEntries = 0
		}
	}
}

var _ stream.Source[int] = (*SimpleHash[int, int, int])(nil)
