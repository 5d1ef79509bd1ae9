package join

import (
	"math"
	"sort"

	"github.com/riverstream/joins/kway"
	"github.com/riverstream/joins/predicate"
	"github.com/riverstream/joins/skim"
	"github.com/riverstream/joins/storage"
	"github.com/riverstream/joins/stream"
)

type hmjPartitions[T any] struct {
	mem  [][]T
	disk [][]storage.Ref[T]
}

type partitionStats struct {
	left, right int
}

type hmjMergeState[L, R, O any] struct {
	omj           *OrderedMerge[predicate.Indexed[L], predicate.Indexed[R], O]
	collLeft      *skim.Collector[predicate.Indexed[L]]
	collRight     *skim.Collector[predicate.Indexed[R]]
	teeLeft       *skim.Tee[predicate.Indexed[L]]
	teeRight      *skim.Tee[predicate.Indexed[R]]
	diskPartition int
}

// HashMerge two-dimensionally partitions both inputs: NumPartitions
// in-memory hash buckets, grouped MemPartsPerDiskPart-at-a-time into
// disk partitions. Arrivals probe the opposite memory bucket and insert
// into their own (hash phase); once memory fills, the configured
// FlushingPolicy picks a disk partition's buckets to sort and spill.
// Whenever neither input produces a tuple, the operator instead merges
// down the disk partition with the most runs, value-skimming the merge
// so the sorted tuples can be written back as a single run per side.
// Grounded directly on the original's join/hash_merge.rs HashMergeJoin.
type HashMerge[L, R, O any] struct {
	left  stream.Source[L]
	right stream.Source[R]
	pred  predicate.Combined[L, R, O]

	backend        storage.Backend
	cfg            HashMergeConfig
	diskPartitions int

	partsLeft   hmjPartitions[L]
	partsRight  hmjPartitions[R]
	leftCounts  []int
	rightCounts []int
	totalInMem  int

	leftDone, rightDone bool

	outputBuffer []O
	merge        *hmjMergeState[L, R, O]
}

// NewHashMerge builds a hash-merge join per cfg, validating its
// constraints (see HashMergeConfig.Validate).
func NewHashMerge[L, R, O any](left stream.Source[L], right stream.Source[R], pred predicate.Combined[L, R, O], backend storage.Backend, cfg HashMergeConfig) (*HashMerge[L, R, O], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dp := cfg.DiskPartitions()
	return &HashMerge[L, R, O]{
		left: left, right: right, pred: pred, backend: backend, cfg: cfg, diskPartitions: dp,
		partsLeft:   hmjPartitions[L]{mem: make([][]L, cfg.NumPartitions), disk: make([][]storage.Ref[L], dp)},
		partsRight:  hmjPartitions[R]{mem: make([][]R, cfg.NumPartitions), disk: make([][]storage.Ref[R], dp)},
		leftCounts:  make([]int, dp),
		rightCounts: make([]int, dp),
	}, nil
}

func (j *HashMerge[L, R, O]) Poll() (stream.Result[O], error) {
	for {
		if len(j.outputBuffer) > 0 {
			v := j.outputBuffer[0]
			j.outputBuffer = j.outputBuffer[1:]
			return stream.ReadyResult(v), nil
		}

		if j.merge != nil {
			res, err := j.merge.omj.Poll()
			if err != nil {
				return stream.Result[O]{}, err
			}
			switch res.Status {
			case stream.Ready:
				return res, nil
			case stream.Done:
				if err := j.finishMerge(); err != nil {
					return stream.Result[O]{}, err
				}
				continue
			default:
				// Every way feeding a merge is a fully-fetched in-memory
				// slice, so the merge itself never actually blocks.
				return stream.NotReadyResult[O](), nil
			}
		}

		lres, err := j.left.Poll()
		if err != nil {
			return stream.Result[O]{}, err
		}
		rres, err := j.right.Poll()
		if err != nil {
			return stream.Result[O]{}, err
		}
		if lres.Status == stream.Done {
			j.leftDone = true
		}
		if rres.Status == stream.Done {
			j.rightDone = true
		}

		if lres.Status == stream.Ready || rres.Status == stream.Ready {
			if lres.Status == stream.Ready {
				if err := j.checkEviction(); err != nil {
					return stream.Result[O]{}, err
				}
				hmjInsert[L, R, O](lres.Value, j.pred.HashLeft(lres.Value), j.cfg.NumPartitions, j.cfg.MemPartsPerDiskPart,
					&j.partsLeft, j.leftCounts, &j.partsRight, &j.outputBuffer, &j.totalInMem,
					func(l L, r R) (O, bool) { return j.pred.Eq(l, r) })
			}
			if rres.Status == stream.Ready {
				if err := j.checkEviction(); err != nil {
					return stream.Result[O]{}, err
				}
				hmjInsert[R, L, O](rres.Value, j.pred.HashRight(rres.Value), j.cfg.NumPartitions, j.cfg.MemPartsPerDiskPart,
					&j.partsRight, j.rightCounts, &j.partsLeft, &j.outputBuffer, &j.totalInMem,
					func(r R, l L) (O, bool) { return j.pred.Eq(l, r) })
			}
			continue
		}

		// Neither side produced a tuple this tick. Once both inputs have
		// ended, whatever is still in memory is spilled first; otherwise
		// the tick is spent merging.
		if j.leftDone && j.rightDone && j.totalInMem > 0 {
			for d := 0; d < j.diskPartitions; d++ {
				if err := evictHmjPartition(&j.partsLeft, j.leftCounts, d, j.cfg.MemPartsPerDiskPart, j.backend,
					func(a, b L) bool { return j.pred.CmpLeft(a, b) < 0 }, &j.totalInMem); err != nil {
					return stream.Result[O]{}, err
				}
				if err := evictHmjPartition(&j.partsRight, j.rightCounts, d, j.cfg.MemPartsPerDiskPart, j.backend,
					func(a, b R) bool { return j.pred.CmpRight(a, b) < 0 }, &j.totalInMem); err != nil {
					return stream.Result[O]{}, err
				}
			}
			continue
		}

		started, err := j.tryStartMerge()
		if err != nil {
			return stream.Result[O]{}, err
		}
		if started {
			continue
		}
		if j.leftDone && j.rightDone {
			return stream.DoneResult[O](), nil
		}
		return stream.NotReadyResult[O](), nil
	}
}

// hmjInsert implements the hash phase for one side's arrival: probe the
// opposite side's memory bucket, then insert into the arriving side's
// own bucket and bump its disk-partition-group's in-memory count.
func hmjInsert[T, U, O any](
	item T,
	hash uint64,
	numPartitions, memPartsPerDiskPart int,
	own *hmjPartitions[T],
	ownCounts []int,
	other *hmjPartitions[U],
	outputBuffer *[]O,
	totalInMem *int,
	joiner func(T, U) (O, bool),
) {
	h := int(hash % uint64(numPartitions))
	for _, c := range other.mem[h] {
		if out, ok := joiner(item, c); ok {
			*outputBuffer = append(*outputBuffer, out)
		}
	}
	own.mem[h] = append(own.mem[h], item)
	*totalInMem++
	ownCounts[h/memPartsPerDiskPart]++
}

func (j *HashMerge[L, R, O]) checkEviction() error {
	if j.totalInMem < j.cfg.MemoryLimit {
		return nil
	}
	stats := make([]partitionStats, j.diskPartitions)
	for i := range stats {
		stats[i] = partitionStats{left: j.leftCounts[i], right: j.rightCounts[i]}
	}
	d := selectPartitionToEvict(j.cfg.Flushing, stats)
	if err := evictHmjPartition(&j.partsLeft, j.leftCounts, d, j.cfg.MemPartsPerDiskPart, j.backend,
		func(a, b L) bool { return j.pred.CmpLeft(a, b) < 0 }, &j.totalInMem); err != nil {
		return err
	}
	return evictHmjPartition(&j.partsRight, j.rightCounts, d, j.cfg.MemPartsPerDiskPart, j.backend,
		func(a, b R) bool { return j.pred.CmpRight(a, b) < 0 }, &j.totalInMem)
}

func evictHmjPartition[T any](own *hmjPartitions[T], ownCounts []int, diskIdx, memPartsPerDiskPart int, backend storage.Backend, less func(a, b T) bool, totalInMem *int) error {
	lo := diskIdx * memPartsPerDiskPart
	hi := lo + memPartsPerDiskPart
	var items []T
	for i := lo; i < hi; i++ {
		items = append(items, own.mem[i]...)
		own.mem[i] = nil
	}
	sort.Slice(items, func(i, k int) bool { return less(items[i], items[k]) })
	ref, err := storage.StoreRun(backend, items)
	if err != nil {
		return wrapStorageErr(err)
	}
	own.disk[diskIdx] = append(own.disk[diskIdx], ref)
	*totalInMem -= ownCounts[diskIdx]
	ownCounts[diskIdx] = 0
	return nil
}

// selectPartitionToEvict applies the configured FlushingPolicy over each
// disk partition's current (left, right) in-memory tuple counts.
func selectPartitionToEvict(policy FlushingPolicy, stats []partitionStats) int {
	switch policy.Kind {
	case FlushLargest:
		return bestStatBy(stats, func(s partitionStats) int { return s.left + s.right }, true)
	case FlushAdaptive:
		return selectAdaptivePartition(policy, stats)
	default: // FlushSmallest
		return bestStatBy(stats, func(s partitionStats) int {
			sum := s.left + s.right
			if sum == 0 {
				return math.MaxInt
			}
			return sum
		}, false)
	}
}

func bestStatBy(stats []partitionStats, key func(partitionStats) int, largest bool) int {
	best := 0
	for i := 1; i < len(stats); i++ {
		if largest {
			if key(stats[i]) > key(stats[best]) {
				best = i
			}
		} else if key(stats[i]) < key(stats[best]) {
			best = i
		}
	}
	return best
}

// selectAdaptivePartition balances, while memory is skewed roughly
// evenly between sides, against evicting partitions whose own skew
// would unbalance it further: a candidate must itself meet AdaptiveA on
// both sides, have at least one tuple, and leave memory balanced after
// its removal. While memory is already skewed, it prefers clearing out
// more of whichever side already dominates.
func selectAdaptivePartition(policy FlushingPolicy, stats []partitionStats) int {
	var totalLeft, totalRight int
	for _, s := range stats {
		totalLeft += s.left
		totalRight += s.right
	}

	balanced := true
	if total := totalLeft + totalRight; total > 0 {
		ratioLeft := float64(totalLeft) / float64(total)
		ratioRight := float64(totalRight) / float64(total)
		balanced = math.Abs(ratioLeft-ratioRight) < policy.AdaptiveB
	}

	var candidates []int
	if balanced {
		for i, s := range stats {
			if s.left+s.right == 0 {
				continue
			}
			if s.left < policy.AdaptiveA || s.right < policy.AdaptiveA {
				continue
			}
			newLeft, newRight := totalLeft-s.left, totalRight-s.right
			if newTotal := newLeft + newRight; newTotal > 0 {
				newRatioLeft := float64(newLeft) / float64(newTotal)
				newRatioRight := float64(newRight) / float64(newTotal)
				if math.Abs(newRatioLeft-newRatioRight) >= policy.AdaptiveB {
					continue
				}
			}
			candidates = append(candidates, i)
		}
	} else {
		dominantLeft := totalLeft >= totalRight
		for i, s := range stats {
			if s.left+s.right == 0 {
				continue
			}
			if (s.left >= s.right) == dominantLeft {
				candidates = append(candidates, i)
			}
		}
	}
	if len(candidates) == 0 {
		for i := range stats {
			candidates = append(candidates, i)
		}
	}

	best := candidates[0]
	bestSum := stats[best].left + stats[best].right
	for _, i := range candidates[1:] {
		if sum := stats[i].left + stats[i].right; sum < bestSum {
			best, bestSum = i, sum
		}
	}
	return best
}

// tryStartMerge picks the disk partition with the most combined runs
// (if any has more than one) and kicks off a skimmed ordered-merge over
// up to FanIn runs per side, draining the runs it consumes from the
// partition's run lists.
func (j *HashMerge[L, R, O]) tryStartMerge() (bool, error) {
	best := -1
	bestRuns := 1
	for d := 0; d < j.diskPartitions; d++ {
		runs := len(j.partsLeft.disk[d]) + len(j.partsRight.disk[d])
		if runs > bestRuns {
			best = d
			bestRuns = runs
		}
	}
	if best < 0 {
		return false, nil
	}

	fanIn := j.cfg.FanIn
	leftRefs := j.partsLeft.disk[best]
	if len(leftRefs) > fanIn {
		leftRefs = leftRefs[:fanIn]
	}
	j.partsLeft.disk[best] = j.partsLeft.disk[best][len(leftRefs):]

	rightRefs := j.partsRight.disk[best]
	if len(rightRefs) > fanIn {
		rightRefs = rightRefs[:fanIn]
	}
	j.partsRight.disk[best] = j.partsRight.disk[best][len(rightRefs):]

	leftWays, err := fetchAll(leftRefs)
	if err != nil {
		return false, err
	}
	rightWays, err := fetchAll(rightRefs)
	if err != nil {
		return false, err
	}

	leftMerger := kway.New(leftWays, func(a, b L) bool { return j.pred.CmpLeft(a, b) < 0 })
	rightMerger := kway.New(rightWays, func(a, b R) bool { return j.pred.CmpRight(a, b) < 0 })
	teeLeft, collLeft := skim.New[predicate.Indexed[L]](leftMerger)
	teeRight, collRight := skim.New[predicate.Indexed[R]](rightMerger)

	ignorePred := predicate.IgnoreIndex[L, R, O](j.pred)
	omj := NewOrderedMerge[predicate.Indexed[L], predicate.Indexed[R], O](teeLeft, teeRight, ignorePred)

	j.merge = &hmjMergeState[L, R, O]{omj: omj, collLeft: collLeft, collRight: collRight, teeLeft: teeLeft, teeRight: teeRight, diskPartition: best}
	return true, nil
}

// finishMerge writes the skimmed, sorted tuples from a completed merge
// back to their disk partition as one new run per side, first draining
// whatever the ordered-merge left unread. Once both inputs have ended
// and the partition holds no other runs, no more tuples can land on it,
// so the merged tuples cannot produce any match they haven't already
// produced and are simply discarded.
func (j *HashMerge[L, R, O]) finishMerge() error {
	m := j.merge
	j.merge = nil

	if j.leftDone && j.rightDone && len(j.partsLeft.disk[m.diskPartition]) == 0 && len(j.partsRight.disk[m.diskPartition]) == 0 {
		return nil
	}
	if err := m.teeLeft.Drain(); err != nil {
		return err
	}
	if err := m.teeRight.Drain(); err != nil {
		return err
	}

	leftRef, err := storage.StoreRun(j.backend, stripIndex(m.collLeft.Values()))
	if err != nil {
		return wrapStorageErr(err)
	}
	rightRef, err := storage.StoreRun(j.backend, stripIndex(m.collRight.Values()))
	if err != nil {
		return wrapStorageErr(err)
	}
	j.partsLeft.disk[m.diskPartition] = append(j.partsLeft.disk[m.diskPartition], leftRef)
	j.partsRight.disk[m.diskPartition] = append(j.partsRight.disk[m.diskPartition], rightRef)
	return nil
}

func stripIndex[T any](indexed []predicate.Indexed[T]) []T {
	out := make([]T, len(indexed))
	for i, v := range indexed {
		out[i] = v.Value
	}
	return out
}

var _ stream.Source[int] = (*HashMerge[int, int, int])(nil)
