package join

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned by symmetric-hash join when inserting a
// tuple would push its combined table size past memory_limit. Per
// spec.md §5/§7, this is the one operator where the cap is a hard
// failure rather than a trigger for eviction or spilling.
var ErrOutOfMemory = errors.New("join: memory limit exceeded")

// ErrStorage wraps a failure from the operator's storage.Backend. The
// operator does not remember that it returned one: a later Poll carries
// on from the state the failure left, which may be missing the run
// that failed to store or fetch.
var ErrStorage = errors.New("join: storage failure")

// ErrInvalidConfig is returned at build time when a config value
// violates its operator's documented constraints.
var ErrInvalidConfig = errors.New("join: invalid config")

// wrapStorageErr wraps a storage.Backend failure as an ErrStorage,
// preserving errors.Is(err, ErrStorage) for callers.
func wrapStorageErr(err error) error {
	return fmt.Errorf("join: %w: %v", ErrStorage, err)
}
