package join

import (
	"sort"

	"github.com/riverstream/joins/kway"
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/storage"
	"github.com/riverstream/joins/stream"
)

// manageBuf appends value (if Ready) to buf, and once buf reaches
// limit, sorts it by less and hands it to backend as a new run,
// recording the resulting Ref and resetting buf. Forcing a flush of a
// possibly-empty buffer with limit 0 is how the input phase's final
// residual flush is expressed, mirroring the original's manage_buf
// helper in join/sort_merge.rs (shared, there, by both sort-merge and
// progressive-merge).
func manageBuf[T any](value stream.Result[T], buf *[]T, limit int, backend storage.Backend, runs *[]storage.Ref[T], less func(a, b T) bool) error {
	if value.Status == stream.Ready {
		*buf = append(*buf, value.Value)
	}
	if len(*buf) >= limit {
		sort.Slice(*buf, func(i, j int) bool { return less((*buf)[i], (*buf)[j]) })
		ref, err := storage.StoreRun(backend, *buf)
		if err != nil {
			return wrapStorageErr(err)
		}
		*runs = append(*runs, ref)
		*buf = nil
	}
	return nil
}

type smPhase int

const (
	smInput smPhase = iota
	smOutput
)

// SortMerge spills sorted runs of both inputs to storage as they
// arrive, then output-phases into a k-way merge of each side followed
// by an ordered-merge-join. Grounded directly on the original's
// join/sort_merge.rs SortMergeJoin, translated from its tagged-enum
// state replacement idiom to an explicit phase field.
type SortMerge[L, R, O any] struct {
	left    stream.Source[L]
	right   stream.Source[R]
	pred    predicate.MergePredicate[L, R, O]
	backend storage.Backend
	limit   int

	leftBuf   []L
	rightBuf  []R
	leftRuns  []storage.Ref[L]
	rightRuns []storage.Ref[R]

	phase  smPhase
	output *OrderedMerge[L, R, O]
}

// NewSortMerge builds a sort-merge join with a per-side buffer limit of
// cfg.MemoryLimit/2.
func NewSortMerge[L, R, O any](left stream.Source[L], right stream.Source[R], pred predicate.MergePredicate[L, R, O], backend storage.Backend, cfg MemoryConfig) (*SortMerge[L, R, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SortMerge[L, R, O]{
		left: left, right: right, pred: pred, backend: backend,
		limit: cfg.MemoryLimit / 2,
	}, nil
}

func (j *SortMerge[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		switch j.phase {
		case smInput:
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
				if err := manageBuf(lres, &j.leftBuf, j.limit, j.backend, &j.leftRuns, func(a, b L) bool { return j.pred.CmpLeft(a, b) < 0 }); err != nil {
					return stream.Result[O]{}, err
				}
				if err := manageBuf(rres, &j.rightBuf, j.limit, j.backend, &j.rightRuns, func(a, b R) bool { return j.pred.CmpRight(a, b) < 0 }); err != nil {
					return stream.Result[O]{}, err
				}
				continue
			}

		case smOutput:
			return j.output.Poll()
		}
	}
}

func (j *SortMerge[L, R, O]) enterOutputPhase() error {
	if err := manageBuf(stream.NotReadyResult[L](), &j.leftBuf, 0, j.backend, &j.leftRuns, func(a, b L) bool { return j.pred.CmpLeft(a, b) < 0 }); err != nil {
		return err
	}
	if err := manageBuf(stream.NotReadyResult[R](), &j.rightBuf, 0, j.backend, &j.rightRuns, func(a, b R) bool { return j.pred.CmpRight(a, b) < 0 }); err != nil {
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

	leftMerge := kway.Unindexed[L](kway.New(leftWays, func(a, b L) bool { return j.pred.CmpLeft(a, b) < 0 }))
	rightMerge := kway.Unindexed[R](kway.New(rightWays, func(a, b R) bool { return j.pred.CmpRight(a, b) < 0 }))
	j.output = NewOrderedMerge[L, R, O](leftMerge, rightMerge, j.pred)
	j.phase = smOutput
	return nil
}

// fetchAll opens a fresh Source over every run, the first step every
// output/merge phase below takes before building a k-way merger.
func fetchAll[T any](runs []storage.Ref[T]) ([]stream.Source[T], error) {
	ways := make([]stream.Source[T], len(runs))
	for i, ref := range runs {
		src, err := ref.Fetch()
		if err != nil {
			return nil, wrapStorageErr(err)
		}
		ways[i] = src
	}
	return ways, nil
}

var _ stream.Source[int] = (*SortMerge[int, int, int])(nil)
