// Package badgerstore is a BadgerDB-backed storage.Backend, for callers
// that want spilled runs to survive process restarts or simply not sit
// in RAM. Grounded on the teacher's datalog/storage/badger_store.go,
// adapted from multi-index datom storage down to a single
// monotonic-key run store: each run is one key/value pair rather than
// five index entries per datom.
package badgerstore

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

var runKeyPrefix = []byte("run:")

// Backend persists encoded runs as individual BadgerDB values keyed by
// a monotonically increasing counter, the way the teacher's BadgerStore
// persists datoms keyed by index-encoded bytes.
type Backend struct {
	db   *badger.DB
	next uint64
}

// Open opens (or creates) a BadgerDB database at path, tuned the way the
// teacher tunes it for a read-heavy workload: join runs are written
// once during a flush and then scanned sequentially during output, so
// the balance favors fast reads over write throughput.
func Open(path string) (*Backend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.MemTableSize = 64 << 20
	opts.BlockCacheSize = 128 << 20
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}

	b := &Backend{db: db}
	if err := b.restoreCounter(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// restoreCounter scans existing keys on reopen so ids stay unique across
// process restarts against the same database directory.
func (b *Backend) restoreCounter() error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var max uint64
		for it.Seek(runKeyPrefix); it.ValidForPrefix(runKeyPrefix); it.Next() {
			id := decodeKey(it.Item().Key())
			if id >= max {
				max = id + 1
			}
		}
		b.next = max
		return nil
	})
}

// Close releases the underlying BadgerDB handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) StoreEncoded(encoded []byte) (uint64, error) {
	id := atomic.AddUint64(&b.next, 1) - 1
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(id), encoded)
	})
	if err != nil {
		return 0, fmt.Errorf("badgerstore: store run %d: %w", id, err)
	}
	return id, nil
}

func (b *Backend) FetchEncoded(id uint64) ([]byte, error) {
	var encoded []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			encoded = append([]byte(nil), val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("badgerstore: no run with id %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("badgerstore: fetch run %d: %w", id, err)
	}
	return encoded, nil
}

func encodeKey(id uint64) []byte {
	key := make([]byte, len(runKeyPrefix)+8)
	copy(key, runKeyPrefix)
	binary.BigEndian.PutUint64(key[len(runKeyPrefix):], id)
	return key
}

func decodeKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(runKeyPrefix):])
}
