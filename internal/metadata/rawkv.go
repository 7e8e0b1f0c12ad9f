package metadata

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetRaw and DeleteRaw for absent keys.
var ErrNotFound = errors.New("key not found")

// RawKVStore provides low-level key-value access to the underlying storage
// engine. Every catalogue engine implements it; the Catalogue builds object
// records and reference counts on top.
type RawKVStore interface {
	// GetRaw retrieves a value by exact key. Returns ErrNotFound if absent.
	GetRaw(ctx context.Context, key string) ([]byte, error)

	// PutRaw stores a key-value pair.
	PutRaw(ctx context.Context, key string, value []byte) error

	// DeleteRaw removes a key. Returns ErrNotFound if absent.
	DeleteRaw(ctx context.Context, key string) error

	// RawBatch applies a set of writes and deletes atomically.
	// sets is a map of key → value; deletes is a list of keys to remove.
	RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error

	// RawScan iterates all keys that share the given prefix in lexicographic
	// order, beginning at startKey (or the first key in the prefix if startKey
	// is empty).  fn receives a copy of each (key, value); returning false
	// stops the scan early.
	RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error

	// RawGC triggers a garbage-collection pass if the engine supports it.
	RawGC() error

	// Sync makes every write accepted so far durable.
	Sync() error

	// Close releases the engine.
	Close() error
}

// prefixEnd returns the exclusive upper bound for a prefix scan.
// It increments the last byte of the prefix; returns nil if all bytes overflow.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // all bytes overflowed, no upper bound
}

// scanStart picks the first key a prefix scan should visit.
func scanStart(prefix, startKey string) string {
	if startKey != "" && startKey >= prefix {
		return startKey
	}
	return prefix
}
