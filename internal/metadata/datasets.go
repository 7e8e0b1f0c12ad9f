package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/maxiofs/dasi/pkg/engine"
)

const datasetPrefix = "d/"

var ErrDatasetNotFound = errors.New("dataset not found")

// Access holds the per-dataset switches for each client operation.
type Access struct {
	Retrieve bool `cbor:"retrieve"`
	Archive  bool `cbor:"archive"`
	List     bool `cbor:"list"`
	Wipe     bool `cbor:"wipe"`
}

// DefaultAccess allows every operation.
func DefaultAccess() Access {
	return Access{Retrieve: true, Archive: true, List: true, Wipe: true}
}

// DatasetRecord is the catalogue entry of one dataset, the objects sharing
// the first level of their key.
type DatasetRecord struct {
	Key       []RecordAttr `cbor:"key"`
	Access    Access       `cbor:"access"`
	CreatedAt int64        `cbor:"ts"` // unix nanoseconds
}

// Attrs returns the first-level key of the dataset.
func (r *DatasetRecord) Attrs() engine.Attrs {
	out := make(engine.Attrs, len(r.Key))
	for i, a := range r.Key {
		out[i] = engine.Attr{Keyword: string(a.Keyword), Value: string(a.Value)}
	}
	return out
}

// DatasetEntry is one dataset record together with its catalogue key.
type DatasetEntry struct {
	Key    string
	Record *DatasetRecord
}

// DatasetKey returns the catalogue key of the dataset holding objects whose
// first level is level0.
func DatasetKey(level0 engine.Attrs) string {
	return datasetPrefix + ObjectPrefix(level0)[len(objectPrefix):]
}

// AllDatasets is the prefix shared by every dataset key.
func AllDatasets() string {
	return datasetPrefix
}

// datasetObjects is the object key prefix of a dataset key
func datasetObjects(key string) string {
	return objectPrefix + key[len(datasetPrefix):]
}

func encodeDataset(r *DatasetRecord) ([]byte, error) {
	data, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dataset record: %w", err)
	}
	return data, nil
}

func decodeDataset(data []byte) (*DatasetRecord, error) {
	var r DatasetRecord
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &r, nil
}

// Dataset returns the record stored under key.
func (c *Catalogue) Dataset(ctx context.Context, key string) (*DatasetRecord, error) {
	data, err := c.kv.GetRaw(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDatasetNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeDataset(data)
}

// DatasetAccess returns the access switches of a dataset. Datasets without
// a record allow everything.
func (c *Catalogue) DatasetAccess(ctx context.Context, key string) (Access, error) {
	rec, err := c.Dataset(ctx, key)
	if errors.Is(err, ErrDatasetNotFound) {
		return DefaultAccess(), nil
	}
	if err != nil {
		return Access{}, err
	}
	return rec.Access, nil
}

// RegisterDataset creates the record of the dataset with first level
// level0 unless it already exists, and returns the stored record.
func (c *Catalogue) RegisterDataset(ctx context.Context, level0 engine.Attrs, now int64) (*DatasetRecord, error) {
	key := DatasetKey(level0)

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.Dataset(ctx, key)
	if !errors.Is(err, ErrDatasetNotFound) {
		return rec, err
	}

	rec = &DatasetRecord{Key: NewRecordAttrs(level0), Access: DefaultAccess(), CreatedAt: now}
	data, err := encodeDataset(rec)
	if err != nil {
		return nil, err
	}
	if err := c.kv.PutRaw(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to write dataset entry: %w", err)
	}
	return rec, nil
}

// UpdateAccess applies fn to the access switches of the dataset under key.
// changed reports whether the stored record differs afterwards.
func (c *Catalogue) UpdateAccess(ctx context.Context, key string, fn func(*Access)) (rec *DatasetRecord, changed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err = c.Dataset(ctx, key)
	if err != nil {
		return nil, false, err
	}

	before := rec.Access
	fn(&rec.Access)
	if rec.Access == before {
		return rec, false, nil
	}

	data, err := encodeDataset(rec)
	if err != nil {
		return nil, false, err
	}
	if err := c.kv.PutRaw(ctx, key, data); err != nil {
		return nil, false, fmt.Errorf("failed to write dataset entry: %w", err)
	}
	return rec, true, nil
}

// Datasets returns up to limit dataset records sorting strictly after the
// key after. An empty after starts at the first dataset.
func (c *Catalogue) Datasets(ctx context.Context, after string, limit int) ([]DatasetEntry, error) {
	start := ""
	if after != "" {
		start = after + "\x00"
	}

	var (
		out    []DatasetEntry
		decErr error
	)
	err := c.kv.RawScan(ctx, datasetPrefix, start, func(key string, val []byte) bool {
		rec, err := decodeDataset(val)
		if err != nil {
			decErr = fmt.Errorf("%s: %w", key, err)
			return false
		}
		out = append(out, DatasetEntry{Key: key, Record: rec})
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

// DropDatasetIfEmpty removes the dataset record under key when no object
// key starts with the dataset's prefix and its access switches are the
// defaults. A dataset with a restricted policy outlives its objects.
func (c *Catalogue) DropDatasetIfEmpty(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.Dataset(ctx, key)
	if errors.Is(err, ErrDatasetNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.Access != DefaultAccess() {
		return false, nil
	}

	empty := true
	err = c.kv.RawScan(ctx, datasetObjects(key), "", func(string, []byte) bool {
		empty = false
		return false
	})
	if err != nil || !empty {
		return false, err
	}

	if err := c.kv.DeleteRaw(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("failed to delete dataset entry: %w", err)
	}
	return true, nil
}

// GC asks the engine to reclaim space left by deleted entries.
func (c *Catalogue) GC() error {
	return c.kv.RawGC()
}
