package metadata

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/google/btree"
)

// MemoryStore implements RawKVStore on an in-memory B-tree. Nothing
// survives Close; it serves tests and throwaway sessions.
type MemoryStore struct {
	mutex sync.RWMutex
	tree  *btree.BTree
}

type memItem struct {
	key string
	val []byte
}

func (mi memItem) Less(item btree.Item) bool {
	return mi.key < item.(memItem).key
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree: btree.New(16),
	}
}

// GetRaw retrieves a value by key
func (ms *MemoryStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	item := ms.tree.Get(memItem{key: key})
	if item == nil {
		return nil, ErrNotFound
	}
	return bytes.Clone(item.(memItem).val), nil
}

// PutRaw stores a key-value pair
func (ms *MemoryStore) PutRaw(ctx context.Context, key string, value []byte) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.tree.ReplaceOrInsert(memItem{key: key, val: bytes.Clone(value)})
	return nil
}

// DeleteRaw removes a key
func (ms *MemoryStore) DeleteRaw(ctx context.Context, key string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if ms.tree.Delete(memItem{key: key}) == nil {
		return ErrNotFound
	}
	return nil
}

// RawBatch applies writes and deletes under one lock
func (ms *MemoryStore) RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	for k, v := range sets {
		ms.tree.ReplaceOrInsert(memItem{key: k, val: bytes.Clone(v)})
	}
	for _, k := range deletes {
		ms.tree.Delete(memItem{key: k})
	}
	return nil
}

// RawScan walks keys with the given prefix in order. fn runs under the
// read lock and must not write to the store.
func (ms *MemoryStore) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	ms.tree.AscendGreaterOrEqual(memItem{key: scanStart(prefix, startKey)}, func(item btree.Item) bool {
		mi := item.(memItem)
		if !strings.HasPrefix(mi.key, prefix) {
			return false
		}
		return fn(mi.key, bytes.Clone(mi.val))
	})
	return nil
}

// RawGC is a no-op.
func (ms *MemoryStore) RawGC() error { return nil }

// Sync is a no-op.
func (ms *MemoryStore) Sync() error { return nil }

// Close drops every entry.
func (ms *MemoryStore) Close() error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.tree.Clear(false)
	return nil
}

var _ RawKVStore = (*MemoryStore)(nil)
