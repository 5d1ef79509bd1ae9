// Package memstore is a trivial in-memory storage.Backend, used in tests
// and by cmd/joinbench when no external store is configured. Grounded on
// the original's examples/in_memory.rs bencher helper, which backs
// ExternalStorage with a plain Vec behind a RefCell.
package memstore

import "fmt"

// Backend stores encoded runs in a map keyed by a monotonically
// increasing counter. Not safe for concurrent use.
type Backend struct {
	next  uint64
	runs  map[uint64][]byte
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{runs: make(map[uint64][]byte)}
}

func (b *Backend) StoreEncoded(encoded []byte) (uint64, error) {
	id := b.next
	b.next++
	cp := make([]byte, len(encoded))
	copy(cp, encoded)
	b.runs[id] = cp
	return id, nil
}

func (b *Backend) FetchEncoded(id uint64) ([]byte, error) {
	encoded, ok := b.runs[id]
	if !ok {
		return nil, fmt.Errorf("memstore: no run with id %d", id)
	}
	return encoded, nil
}

// Len reports how many runs are currently stored, useful for tests that
// assert on spill counts.
func (b *Backend) Len() int {
	return len(b.runs)
}
