// Package skim implements the value-skimming tee hash-merge-join uses in
// its merge phase to keep a copy of every tuple the ordered-merge reads,
// so the merged runs can be written back without consuming the upstream
// twice. Grounded on the original's
// value_skimmer.rs ValueSink/ValueSinkRecv, which wraps an Rc<T> around
// every polled item and forwards a clone of the handle down an
// unbounded mpsc channel while still returning the original to the
// caller.
//
// Every join operator in this module runs its poll loop on a single
// goroutine, so skim uses a shared slice behind a pointer rather than
// a channel: it is the direct analogue of Rc<RefCell<Vec<T>>>, and
// needs no synchronization since there is never a second goroutine
// racing to read it.
package skim

import "github.com/riverstream/joins/stream"

// Tee wraps an inner Source[T]; every value it emits to its own caller
// is also appended to a Collector shared with whoever built the tee.
type Tee[T any] struct {
	inner   stream.Source[T]
	skimmed *[]T
	done    *bool
}

// Collector is the read side of a Tee: the skimmed values accumulated
// so far, shared with the Tee by reference.
type Collector[T any] struct {
	skimmed *[]T
	done    *bool
}

// New builds a Tee over inner and the Collector that observes its
// output. Every value inner produces through the Tee is also appended
// to the Collector, in poll order.
func New[T any](inner stream.Source[T]) (*Tee[T], *Collector[T]) {
	skimmed := new([]T)
	done := new(bool)
	return &Tee[T]{inner: inner, skimmed: skimmed, done: done},
		&Collector[T]{skimmed: skimmed, done: done}
}

// Poll forwards to the inner source, recording every Ready value into
// the shared Collector before returning it.
func (t *Tee[T]) Poll() (stream.Result[T], error) {
	res, err := t.inner.Poll()
	if err != nil {
		return stream.Result[T]{}, err
	}
	switch res.Status {
	case stream.Ready:
		*t.skimmed = append(*t.skimmed, res.Value)
	case stream.Done:
		*t.done = true
	}
	return res, nil
}

// Drain exhausts the inner source without returning its values to the
// Tee's own caller, the same role the original's Drop impl plays: it
// guarantees every value the upstream still holds reaches the
// Collector even if the main consumer stopped polling early.
func (t *Tee[T]) Drain() error {
	for {
		res, err := t.Poll()
		if err != nil {
			return err
		}
		if res.Status == stream.Done {
			return nil
		}
	}
}

// Values returns the values skimmed so far. Done reports whether the
// underlying source has been fully drained; until it has, Values may
// grow on later calls.
func (c *Collector[T]) Values() []T {
	return *c.skimmed
}

// Done reports whether the underlying source reached its end.
func (c *Collector[T]) Done() bool {
	return *c.done
}

var _ stream.Source[int] = (*Tee[int])(nil)
