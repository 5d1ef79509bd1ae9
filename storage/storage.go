// Package storage abstracts the external store operators spill sorted
// runs to once they outgrow their in-memory budget. Grounded on the
// original's storage/mod.rs ExternalStorage<T>/External<T> traits.
//
// Go cannot express a generic method on a non-generic type, so a single
// Backend cannot itself be generic over the tuple type T — yet one
// Backend instance must serve both a join's left-tuple runs and its
// right-tuple runs, which are different types. storage splits the
// concern in two: Backend stores/fetches opaque (gob-encoded) byte runs
// keyed by a backend-assigned id, and the generic facade Ref[T] carries
// the id plus the T witness needed to decode back into a typed stream.
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/riverstream/joins/stream"
)

// Backend persists and retrieves opaque encoded runs. Implementations
// need not be safe for concurrent use; every operator in this module
// drives its backend from a single goroutine.
type Backend interface {
	// StoreEncoded persists the already gob-encoded run and returns an
	// id that a later FetchEncoded call can use to retrieve it.
	StoreEncoded(encoded []byte) (id uint64, err error)
	// FetchEncoded returns the bytes previously passed to StoreEncoded
	// for id.
	FetchEncoded(id uint64) ([]byte, error)
}

// Ref is a typed handle onto a run of T values held by a Backend. It is
// the generic facade over Backend's opaque id/byte-slice contract.
type Ref[T any] struct {
	backend Backend
	id      uint64
}

// StoreRun gob-encodes tuples and asks backend to persist them, returning
// a typed Ref that can later recreate a Source[T] over the same data.
func StoreRun[T any](backend Backend, tuples []T) (Ref[T], error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tuples); err != nil {
		return Ref[T]{}, fmt.Errorf("storage: encode run: %w", err)
	}
	id, err := backend.StoreEncoded(buf.Bytes())
	if err != nil {
		return Ref[T]{}, fmt.Errorf("storage: store run: %w", err)
	}
	return Ref[T]{backend: backend, id: id}, nil
}

// Fetch decodes the referenced run and returns a fresh, rescannable
// Source[T] over it. Each call returns an independent cursor.
func (r Ref[T]) Fetch() (stream.Source[T], error) {
	encoded, err := r.backend.FetchEncoded(r.id)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch run: %w", err)
	}
	var tuples []T
	if err := gob.NewDecoder(bytes.NewReader(encoded)).Decode(&tuples); err != nil {
		return nil, fmt.Errorf("storage: decode run: %w", err)
	}
	return stream.NewSlice(tuples), nil
}

// ID reports the backend-assigned identity of the run, useful for
// logging and for operators (like hash-merge-join) that key auxiliary
// bookkeeping off of which run a tuple came from.
func (r Ref[T]) ID() uint64 {
	return r.id
}
