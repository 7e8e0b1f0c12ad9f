package metadata

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// GetRaw retrieves a value by key from BadgerDB
func (s *BadgerStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

// PutRaw stores a key-value pair in BadgerDB
func (s *BadgerStore) PutRaw(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// DeleteRaw deletes a key from BadgerDB
func (s *BadgerStore) DeleteRaw(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
}

// RawBatch applies writes and deletes atomically in a single BadgerDB transaction.
func (s *BadgerStore) RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for k, v := range sets {
			if err := txn.Set([]byte(k), v); err != nil {
				return fmt.Errorf("batch set %q: %w", k, err)
			}
		}
		for _, k := range deletes {
			if err := txn.Delete([]byte(k)); err != nil && err != badger.ErrKeyNotFound {
				return fmt.Errorf("batch delete %q: %w", k, err)
			}
		}
		return nil
	})
}

// RawScan iterates all keys with the given prefix starting from startKey.
// fn receives copies; returning false stops the scan.
func (s *BadgerStore) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(scanStart(prefix, startKey))); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			keyCopy := string(item.KeyCopy(nil))
			valCopy, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(keyCopy, valCopy) {
				break
			}
		}
		return nil
	})
}

// RawGC runs BadgerDB value-log garbage collection.
func (s *BadgerStore) RawGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite || err == badger.ErrRejected {
		return nil
	}
	return err
}

var _ RawKVStore = (*BadgerStore)(nil)
