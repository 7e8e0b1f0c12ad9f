package metadata

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrCorruptRecord  = errors.New("corrupt catalogue record")
)

// Entry is one object record together with its catalogue key.
type Entry struct {
	Key    string
	Record *ObjectRecord
}

// Catalogue indexes archived objects. Payloads are content addressed, so
// several records may point at the same URI; the catalogue keeps a
// reference count per URI in the same batch as the record change.
type Catalogue struct {
	kv     RawKVStore
	logger *logrus.Logger
	mu     sync.Mutex // serializes read-modify-write of reference counts
}

// NewCatalogue wraps a raw key-value engine.
func NewCatalogue(kv RawKVStore, logger *logrus.Logger) *Catalogue {
	if logger == nil {
		logger = logrus.New()
	}
	return &Catalogue{kv: kv, logger: logger}
}

// Get returns the record stored under key.
func (c *Catalogue) Get(ctx context.Context, key string) (*ObjectRecord, error) {
	data, err := c.kv.GetRaw(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// Exists reports whether a record is stored under key.
func (c *Catalogue) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.kv.GetRaw(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put stores rec under key, replacing any previous record. When the
// replaced record held the last reference to its payload, that record is
// returned so the caller can delete the payload.
func (c *Catalogue) Put(ctx context.Context, key string, rec *ObjectRecord) (*ObjectRecord, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous, err := c.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}

	sets := map[string][]byte{key: data}
	var deletes []string
	var released *ObjectRecord

	if previous == nil || previous.URI != rec.URI {
		n, err := c.refs(ctx, rec.URI)
		if err != nil {
			return nil, err
		}
		sets[refKey(rec.URI)] = encodeCount(n + 1)

		if previous != nil {
			n, err := c.refs(ctx, previous.URI)
			if err != nil {
				return nil, err
			}
			if n <= 1 {
				deletes = append(deletes, refKey(previous.URI))
				released = previous
			} else {
				sets[refKey(previous.URI)] = encodeCount(n - 1)
			}
		}
	}

	if err := c.kv.RawBatch(ctx, sets, deletes); err != nil {
		return nil, fmt.Errorf("failed to write catalogue entry: %w", err)
	}
	return released, nil
}

// Delete removes the record under key. released reports whether it held
// the last reference to its payload.
func (c *Catalogue) Delete(ctx context.Context, key string) (rec *ObjectRecord, released bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err = c.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}

	n, err := c.refs(ctx, rec.URI)
	if err != nil {
		return nil, false, err
	}

	deletes := []string{key}
	sets := map[string][]byte{}
	if n <= 1 {
		deletes = append(deletes, refKey(rec.URI))
		released = true
	} else {
		sets[refKey(rec.URI)] = encodeCount(n - 1)
	}

	if err := c.kv.RawBatch(ctx, sets, deletes); err != nil {
		return nil, false, fmt.Errorf("failed to delete catalogue entry: %w", err)
	}
	return rec, released, nil
}

// Refs returns the number of records pointing at uri.
func (c *Catalogue) Refs(ctx context.Context, uri string) (int64, error) {
	return c.refs(ctx, uri)
}

func (c *Catalogue) refs(ctx context.Context, uri string) (int64, error) {
	data, err := c.kv.GetRaw(ctx, refKey(uri))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, size := binary.Varint(data)
	if size <= 0 {
		return 0, fmt.Errorf("%w: reference count for %q", ErrCorruptRecord, uri)
	}
	return n, nil
}

func encodeCount(n int64) []byte {
	return binary.AppendVarint(nil, n)
}

// Scan returns up to limit records whose keys start with prefix and sort
// strictly after the key after. An empty after starts at the prefix.
func (c *Catalogue) Scan(ctx context.Context, prefix, after string, limit int) ([]Entry, error) {
	start := ""
	if after != "" {
		start = after + "\x00"
	}

	var (
		out    []Entry
		decErr error
	)
	err := c.kv.RawScan(ctx, prefix, start, func(key string, val []byte) bool {
		rec, err := decodeRecord(val)
		if err != nil {
			decErr = fmt.Errorf("%s: %w", key, err)
			return false
		}
		out = append(out, Entry{Key: key, Record: rec})
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, decErr
	}
	return out, nil
}

// Flush makes every accepted change durable.
func (c *Catalogue) Flush() error {
	return c.kv.Sync()
}

// Close closes the underlying engine.
func (c *Catalogue) Close() error {
	return c.kv.Close()
}
