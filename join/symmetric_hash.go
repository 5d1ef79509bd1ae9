package join

import (
	"fmt"

	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/stream"
)

// SymmetricHash maintains a hash table per side, probing the opposite
// table and inserting into its own on every arrival, so it can emit
// matches without waiting for either input to end. Grounded directly
// on the original's join/symmetric_hash.rs SymmetricHashJoin, kept in
// its unbatched per-poll form: spec.md's suspension rule (NotReady
// only when both sides are NotReady) falls out of polling both inputs
// every iteration, same as the original.
type SymmetricHash[L, R, O any] struct {
	left  stream.Source[L]
	right stream.Source[R]
	pred  predicate.HashPredicate[L, R, O]

	tableLeft  map[uint64][]L
	tableRight map[uint64][]R
	tupleCount int
	limit      int

	outputBuffer []O
}

// NewSymmetricHash builds a symmetric hash join that fails with
// ErrOutOfMemory once both tables together exceed cfg.MemoryLimit.
func NewSymmetricHash[L, R, O any](left stream.Source[L], right stream.Source[R], pred predicate.HashPredicate[L, R, O], cfg MemoryConfig) (*SymmetricHash[L, R, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SymmetricHash[L, R, O]{
		left:       left,
		right:      right,
		pred:       pred,
		limit:      cfg.MemoryLimit,
		tableLeft:  make(map[uint64][]L),
		tableRight: make(map[uint64][]R),
	}, nil
}

func (j *SymmetricHash[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		if len(j.outputBuffer) > 0 {
			v := j.outputBuffer[0]
			j.outputBuffer = j.outputBuffer[1:]
			return stream.ReadyResult(v), nil
		}

		lres, err := j.left.Poll()
		if err != nil {
			return stream.Result[O]{}, err
		}
		rres, err := j.right.Poll()
		if err != nil {
			return stream.Result[O]{}, err
		}

		switch {
		case lres.Status == stream.Done && rres.Status == stream.Done:
			return stream.DoneResult[O](), nil
		case lres.Status == stream.NotReady && rres.Status == stream.NotReady,
			lres.Status == stream.Done && rres.Status == stream.NotReady,
			lres.Status == stream.NotReady && rres.Status == stream.Done:
			return stream.NotReadyResult[O](), nil
		}

		if lres.Status == stream.Ready {
			hash := j.pred.HashLeft(lres.Value)
			for _, r := range j.tableRight[hash] {
				if out, ok := j.pred.Eq(lres.Value, r); ok {
					j.outputBuffer = append(j.outputBuffer, out)
				}
			}
			j.tableLeft[hash] = append(j.tableLeft[hash], lres.Value)
			j.tupleCount++
		}
		if rres.Status == stream.Ready {
			hash := j.pred.HashRight(rres.Value)
			for _, l := range j.tableLeft[hash] {
				if out, ok := j.pred.Eq(l, rres.Value); ok {
					j.outputBuffer = append(j.outputBuffer, out)
				}
			}
			j.tableRight[hash] = append(j.tableRight[hash], rres.Value)
			j.tupleCount++
		}

		if j.tupleCount > j.limit {
			return stream.Result[O]{}, fmt.Errorf("symmetric-hash: %w", ErrOutOfMemory)
		}
	}
}

var _ stream.Source[int] = (*SymmetricHash[int, int, int])(nil)
