package join

import (
	"sort"

	"github.com/riverstream/joins/kway"
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/storage"
	"github.com/riverstream/joins/stream"
)

type pmPhase int

const (
	pmInput pmPhase = iota
	pmOutput
)

// ProgressiveMerge emits matches while still consuming input: whenever
// its combined buffer reaches MemoryLimit, it sorts both sides, joins
// the two buffers against each other in place to emit immediate
// matches, then spills both sorted buffers as one new run per side.
// Once both inputs end, it output-phases into a k-way merge across
// every run on each side, using IgnoreIndexPredicate (predicate
// package) to skip re-comparing a left run against the right run it
// was already joined against during its own flush. Grounded directly
// on the original's join/progressive_merge.rs ProgressiveMergeJoin.
type ProgressiveMerge[L, R, O any] struct {
	left    stream.Source[L]
	right   stream.Source[R]
	pred    predicate.MergePredicate[L, R, O]
	backend storage.Backend
	limit   int

	leftBuf   []L
	rightBuf  []R
	leftRuns  []storage.Ref[L]
	rightRuns []storage.Ref[R]

	outputBuffer []O

	phase  pmPhase
	output *OrderedMerge[predicate.Indexed[L], predicate.Indexed[R], O]
}

// NewProgressiveMerge builds a progressive-merge join that flushes once
// its combined buffered tuple count reaches cfg.MemoryLimit.
func NewProgressiveMerge[L, R, O any](left stream.Source[L], right stream.Source[R], pred predicate.MergePredicate[L, R, O], backend storage.Backend, cfg MemoryConfig) (*ProgressiveMerge[L, R, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProgressiveMerge[L, R, O]{
		left: left, right: right, pred: pred, backend: backend,
		limit: cfg.MemoryLimit,
	}, nil
}

// flushBuffers sorts both buffers by their side-order, joins them
// against each other directly (the source of progressive merge's early
// emission) collecting every match into outputBuffer, then hands both
// sorted buffers to storage as a matched pair of new runs.
func (j *ProgressiveMerge[L, R, O]) flushBuffers() error {
	sort.Slice(j.leftBuf, func(i, k int) bool { return j.pred.CmpLeft(j.leftBuf[i], j.leftBuf[k]) < 0 })
	sort.Slice(j.rightBuf, func(i, k int) bool { return j.pred.CmpRight(j.rightBuf[i], j.rightBuf[k]) < 0 })

	immediate := NewOrderedMerge[L, R, O](stream.NewSlice(j.leftBuf), stream.NewSlice(j.rightBuf), j.pred)
	matches, err := stream.Drain[O](immediate)
	if err != nil {
		return err
	}
	j.outputBuffer = append(j.outputBuffer, matches...)

	leftRef, err := storage.StoreRun(j.backend, j.leftBuf)
	if err != nil {
		return wrapStorageErr(err)
	}
	rightRef, err := storage.StoreRun(j.backend, j.rightBuf)
	if err != nil {
		return wrapStorageErr(err)
	}
	j.leftRuns = append(j.leftRuns, leftRef)
	j.rightRuns = append(j.rightRuns, rightRef)
	j.leftBuf, j.rightBuf = nil, nil
	return nil
}

func (j *ProgressiveMerge[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		if len(j.outputBuffer) > 0 {
			v := j.outputBuffer[0]
			j.outputBuffer = j.outputBuffer[1:]
			return stream.ReadyResult(v), nil
		}

		switch j.phase {
		case pmInput:
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
				if err := j.enterOutputPhase(); err != nil {
					return stream.Result[O]{}, err
				}
				continue

			case lres.Status == stream.NotReady && rres.Status == stream.NotReady,
				lres.Status == stream.Done && rres.Status == stream.NotReady,
				lres.Status == stream.NotReady && rres.Status == stream.Done:
				return stream.NotReadyResult[O](), nil

			default:
				if lres.Status == stream.Ready {
					j.leftBuf = append(j.leftBuf, lres.Value)
				}
				if rres.Status == stream.Ready {
					j.rightBuf = append(j.rightBuf, rres.Value)
				}
				if len(j.leftBuf)+len(j.rightBuf) >= j.limit {
					if err := j.flushBuffers(); err != nil {
						return stream.Result[O]{}, err
					}
				}
				continue
			}

		case pmOutput:
			res, err := j.output.Poll()
			if err != nil {
				return stream.Result[O]{}, err
			}
			return res, nil
		}
	}
}

func (j *ProgressiveMerge[L, R, O]) enterOutputPhase() error {
	if err := j.flushBuffers(); err != nil {
		return err
	}

	leftWays, err := fetchAll(j.leftRuns)
	if err != nil {
		return err
	}
	rightWays, err := fetchAll(j.rightRuns)
	if err != nil {
		return err
	}

	leftMerge := kway.New(leftWays, func(a, b L) bool { return j.pred.CmpLeft(a, b) < 0 })
	rightMerge := kway.New(rightWays, func(a, b R) bool { return j.pred.CmpRight(a, b) < 0 })
	ignorePred := predicate.IgnoreIndex[L, R, O](j.pred)

	j.output = NewOrderedMerge[predicate.Indexed[L], predicate.Indexed[R], O](leftMerge, rightMerge, ignorePred)
	j.phase = pmOutput
	return nil
}

var _ stream.Source[int] = (*ProgressiveMerge[int, int, int])(nil)
