package join

import (
	"fmt"
	"math"

	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/storage"
	"github.com/riverstream/joins/stream"
)

// Timestamped tags a tuple with the arrival/eviction ticks of the global
// XJoin timer: TIn is the tick it entered memory, TOut the tick it left
// memory (or, for a tuple still resident at cleanup, one past the final
// tick). Grounded on the original's join/xjoin.rs Timestamped<T>.
type Timestamped[T any] struct {
	TIn, TOut int
	Item      T
}

type xjInMem[T any] struct {
	tIn  int
	item T
}

// s2Record remembers a prior stage-2 probe of this partition's on-disk
// tuples against the opposite side's in-memory tuples, so a later
// cleanup-phase (or stage-2) probe can skip pairs already checked.
type s2Record struct {
	tLast  int
	tProbe int
}

type xjPartition[T any] struct {
	inMemory  []xjInMem[T]
	onDisk    []storage.Ref[Timestamped[T]]
	s2Records []s2Record
}

type xjPhase int

const (
	xjMain xjPhase = iota
	xjCleanup
)

// XJoin hash-partitions both inputs into numPartitions buckets and joins
// without ever fully blocking on either input: arriving tuples are
// matched against the opposite side's in-memory bucket immediately
// (stage 1), overflow buckets are evicted to storage as timestamped
// batches, idle ticks (no input Ready, at least one NotReady) are spent probing disk
// batches against current memory (stage 2), and once both inputs end a
// final hash-join cleans up whatever stage 1/2 could not yet have seen
// (stage 3). Grounded on the original's join/xjoin.rs MainPhase for
// stage 1/eviction/cleanup; stage 2 has no counterpart there and is
// built from the round-robin probing and suppression rule described for
// it directly.
type XJoin[L, R, O any] struct {
	left    stream.Source[L]
	right   stream.Source[R]
	pred    predicate.HashPredicate[L, R, O]
	backend storage.Backend

	partitionsLeft  []xjPartition[L]
	partitionsRight []xjPartition[R]
	numPartitions   int

	overflowMemory int
	memoryLimit    int
	timer          int
	s2Cursor       int

	outputBuffer []O
	phase        xjPhase
}

// NewXJoin builds an XJoin with cfg.MemoryLimit/3 hash partitions per
// the original builder's num_partitions = memory_limit / 3, evicting once
// "overflow" memory reaches cfg.MemoryLimit minus two tuples per
// partition.
func NewXJoin[L, R, O any](left stream.Source[L], right stream.Source[R], pred predicate.HashPredicate[L, R, O], backend storage.Backend, cfg MemoryConfig) (*XJoin[L, R, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MemoryLimit < 3 {
		return nil, fmt.Errorf("%w: xjoin requires MemoryLimit >= 3", ErrInvalidConfig)
	}
	numPartitions := cfg.MemoryLimit / 3
	return &XJoin[L, R, O]{
		left: left, right: right, pred: pred, backend: backend,
		partitionsLeft:  make([]xjPartition[L], numPartitions),
		partitionsRight: make([]xjPartition[R], numPartitions),
		numPartitions:   numPartitions,
		memoryLimit:     cfg.MemoryLimit - numPartitions*2,
	}, nil
}

func (j *XJoin[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		if len(j.outputBuffer) > 0 {
			v := j.outputBuffer[0]
			j.outputBuffer = j.outputBuffer[1:]
			return stream.ReadyResult(v), nil
		}

		switch j.phase {
		case xjMain:
			j.timer++
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
				if err := j.enterCleanupPhase(); err != nil {
					return stream.Result[O]{}, err
				}
				continue

			case lres.Status == stream.NotReady && rres.Status == stream.NotReady,
				lres.Status == stream.Done && rres.Status == stream.NotReady,
				lres.Status == stream.NotReady && rres.Status == stream.Done:
				if err := j.stage2Step(); err != nil {
					return stream.Result[O]{}, err
				}
				if len(j.outputBuffer) > 0 {
					continue
				}
				return stream.NotReadyResult[O](), nil

			default:
				manageXJoinSide[L, R, O](lres, j.partitionsLeft, j.partitionsRight, &j.outputBuffer, &j.overflowMemory, j.timer, j.numPartitions,
					j.pred.HashLeft, func(l L, r R) (O, bool) { return j.pred.Eq(l, r) })
				if err := j.manageEviction(); err != nil {
					return stream.Result[O]{}, err
				}
				manageXJoinSide[R, L, O](rres, j.partitionsRight, j.partitionsLeft, &j.outputBuffer, &j.overflowMemory, j.timer, j.numPartitions,
					j.pred.HashRight, func(r R, l L) (O, bool) { return j.pred.Eq(l, r) })
				if err := j.manageEviction(); err != nil {
					return stream.Result[O]{}, err
				}
				continue
			}

		case xjCleanup:
			return stream.DoneResult[O](), nil
		}
	}
}

// manageXJoinSide implements stage 1 for one side's arrival: probe the
// opposite side's in-memory bucket for matches, then insert into the
// arriving side's own bucket. Kept as a free function (not a method)
// since Go methods cannot carry extra type parameters beyond their
// receiver's.
func manageXJoinSide[T, U, O any](
	res stream.Result[T],
	insertPartitions []xjPartition[T],
	probePartitions []xjPartition[U],
	outputBuffer *[]O,
	overflowMemory *int,
	timer int,
	numPartitions int,
	hash func(T) uint64,
	joiner func(T, U) (O, bool),
) {
	if res.Status != stream.Ready {
		return
	}
	v := res.Value
	h := hash(v) % uint64(numPartitions)
	part := &insertPartitions[h]
	if len(part.inMemory) > 0 {
		*overflowMemory++
	}
	probe := &probePartitions[h]
	for _, c := range probe.inMemory {
		if out, ok := joiner(v, c.item); ok {
			*outputBuffer = append(*outputBuffer, out)
		}
	}
	part.inMemory = append(part.inMemory, xjInMem[T]{tIn: timer, item: v})
}

// manageEviction picks the largest in-memory bucket across both sides
// (ties favor the right side) and spills it to storage, once overflow
// memory has reached the configured limit.
func (j *XJoin[L, R, O]) manageEviction() error {
	if j.overflowMemory < j.memoryLimit {
		return nil
	}
	li := argmaxInMemory(j.partitionsLeft)
	ri := argmaxInMemory(j.partitionsRight)
	if len(j.partitionsLeft[li].inMemory) > len(j.partitionsRight[ri].inMemory) {
		return evictXJoinPartition(&j.partitionsLeft[li], j.backend, j.timer, &j.overflowMemory)
	}
	return evictXJoinPartition(&j.partitionsRight[ri], j.backend, j.timer, &j.overflowMemory)
}

func argmaxInMemory[T any](parts []xjPartition[T]) int {
	best := 0
	for i := 1; i < len(parts); i++ {
		if len(parts[i].inMemory) > len(parts[best].inMemory) {
			best = i
		}
	}
	return best
}

func evictXJoinPartition[T any](part *xjPartition[T], backend storage.Backend, timer int, overflow *int) error {
	items := make([]Timestamped[T], len(part.inMemory))
	for i, im := range part.inMemory {
		items[i] = Timestamped[T]{TIn: im.tIn, TOut: timer, Item: im.item}
	}
	ref, err := storage.StoreRun(backend, items)
	if err != nil {
		return wrapStorageErr(err)
	}
	part.onDisk = append(part.onDisk, ref)
	*overflow -= len(part.inMemory) - 1
	part.inMemory = nil
	return nil
}

// stage2Step spends one idle tick (no input Ready, at least one
// NotReady) probing one
// partition's on-disk batches against the opposite side's current
// in-memory tuples, round-robining across partitions and sides so
// repeated idle ticks eventually cover every disk batch.
func (j *XJoin[L, R, O]) stage2Step() error {
	total := 2 * j.numPartitions
	if total == 0 {
		return nil
	}
	idx := j.s2Cursor % total
	j.s2Cursor++
	p := idx / 2
	if idx%2 == 0 {
		return j.stage2ProbeLeftDisk(p)
	}
	return j.stage2ProbeRightDisk(p)
}

func (j *XJoin[L, R, O]) stage2ProbeLeftDisk(p int) error {
	part := &j.partitionsLeft[p]
	if len(part.onDisk) == 0 {
		return nil
	}
	opposite := &j.partitionsRight[p]

	var xs []Timestamped[L]
	for _, ref := range part.onDisk {
		batch, err := fetchTimestamped[L](ref)
		if err != nil {
			return err
		}
		xs = append(xs, batch...)
	}

	maxTOut := 0
	for _, x := range xs {
		if x.TOut > maxTOut {
			maxTOut = x.TOut
		}
		for _, y := range opposite.inMemory {
			if coveredByStage2(part.s2Records, x.TOut, y.tIn, math.MaxInt) {
				continue
			}
			// x was still resident when y arrived: stage 1 already
			// compared them.
			if x.TOut > y.tIn {
				continue
			}
			if out, ok := j.pred.Eq(x.Item, y.item); ok {
				j.outputBuffer = append(j.outputBuffer, out)
			}
		}
	}
	part.s2Records = append(part.s2Records, s2Record{tLast: maxTOut, tProbe: j.timer})
	return nil
}

func (j *XJoin[L, R, O]) stage2ProbeRightDisk(p int) error {
	part := &j.partitionsRight[p]
	if len(part.onDisk) == 0 {
		return nil
	}
	opposite := &j.partitionsLeft[p]

	var xs []Timestamped[R]
	for _, ref := range part.onDisk {
		batch, err := fetchTimestamped[R](ref)
		if err != nil {
			return err
		}
		xs = append(xs, batch...)
	}

	maxTOut := 0
	for _, x := range xs {
		if x.TOut > maxTOut {
			maxTOut = x.TOut
		}
		for _, y := range opposite.inMemory {
			if coveredByStage2(part.s2Records, x.TOut, y.tIn, math.MaxInt) {
				continue
			}
			// Same overlap rule as the cleanup phase, with y (left) as
			// the in-memory side: x was resident when y arrived.
			if y.tIn <= x.TOut {
				continue
			}
			if out, ok := j.pred.Eq(y.item, x.Item); ok {
				j.outputBuffer = append(j.outputBuffer, out)
			}
		}
	}
	part.s2Records = append(part.s2Records, s2Record{tLast: maxTOut, tProbe: j.timer})
	return nil
}

// coveredByStage2 reports whether a prior probe recorded in records
// already checked the pair (x with eviction tick xTOut, y with arrival
// tick yTIn and eviction tick yTOut, math.MaxInt while y is still in
// memory): true when some record's tLast reaches at least as far as x's
// batch and y was already resident in memory at that probe's time.
func coveredByStage2(records []s2Record, xTOut, yTIn, yTOut int) bool {
	for _, rec := range records {
		if rec.tLast >= xTOut && yTIn < rec.tProbe && yTOut > rec.tProbe {
			return true
		}
	}
	return false
}

func fetchTimestamped[T any](ref storage.Ref[Timestamped[T]]) ([]Timestamped[T], error) {
	src, err := ref.Fetch()
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return stream.Drain[Timestamped[T]](src)
}

// enterCleanupPhase stamps every tuple still in memory with a final
// t_out one past the current tick, reunites it with its partition's disk
// batches, and hash-joins left against right within each partition
// (matches only ever land in one partition, since a match implies equal
// hashes). Two duplicate guards apply: an overlap check (the pair could
// already have matched in stage 1 while both were resident) and a
// stage-2 coverage check (the pair was already probed while one side was
// on disk).
func (j *XJoin[L, R, O]) enterCleanupPhase() error {
	tOut := j.timer + 1

	for p := 0; p < j.numPartitions; p++ {
		leftPart := &j.partitionsLeft[p]
		rightPart := &j.partitionsRight[p]

		var leftAll []Timestamped[L]
		for _, im := range leftPart.inMemory {
			leftAll = append(leftAll, Timestamped[L]{TIn: im.tIn, TOut: tOut, Item: im.item})
		}
		for _, ref := range leftPart.onDisk {
			batch, err := fetchTimestamped[L](ref)
			if err != nil {
				return err
			}
			leftAll = append(leftAll, batch...)
		}

		var rightAll []Timestamped[R]
		for _, im := range rightPart.inMemory {
			rightAll = append(rightAll, Timestamped[R]{TIn: im.tIn, TOut: tOut, Item: im.item})
		}
		for _, ref := range rightPart.onDisk {
			batch, err := fetchTimestamped[R](ref)
			if err != nil {
				return err
			}
			rightAll = append(rightAll, batch...)
		}

		table := make(map[uint64][]Timestamped[L])
		for _, l := range leftAll {
			h := j.pred.HashLeft(l.Item)
			table[h] = append(table[h], l)
		}

		for _, r := range rightAll {
			h := j.pred.HashRight(r.Item)
			for _, l := range table[h] {
				if l.TIn <= r.TOut && l.TOut > r.TIn {
					continue
				}
				if coveredByStage2(leftPart.s2Records, l.TOut, r.TIn, r.TOut) {
					continue
				}
				if coveredByStage2(rightPart.s2Records, r.TOut, l.TIn, l.TOut) {
					continue
				}
				if out, ok := j.pred.Eq(l.Item, r.Item); ok {
					j.outputBuffer = append(j.outputBuffer, out)
				}
			}
		}
	}

	j.phase = xjCleanup
	return nil
}

var _ stream.Source[int] = (*XJoin[int, int, int])(nil)
