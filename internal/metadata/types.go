package metadata

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/maxiofs/dasi/pkg/engine"
)

// RecordAttr is one key attribute as stored. Keyword and value are byte
// strings so keys that are not valid UTF-8 survive unchanged.
type RecordAttr struct {
	Keyword []byte `cbor:"k"`
	Value   []byte `cbor:"v"`
}

// ObjectRecord is the catalogue entry of one archived object
type ObjectRecord struct {
	Key         []RecordAttr `cbor:"key"`
	URI         string       `cbor:"uri"`
	Offset      int64        `cbor:"off"`
	Length      int64        `cbor:"len"`
	Size        int64        `cbor:"size"`
	Compression string       `cbor:"comp"`
	Checksum    string       `cbor:"sum"`
	ArchivedAt  int64        `cbor:"ts"` // unix nanoseconds
}

// NewRecordAttrs converts engine attributes to their stored form.
func NewRecordAttrs(attrs engine.Attrs) []RecordAttr {
	out := make([]RecordAttr, len(attrs))
	for i, a := range attrs {
		out[i] = RecordAttr{Keyword: []byte(a.Keyword), Value: []byte(a.Value)}
	}
	return out
}

// Attrs returns the key in archive order.
func (r *ObjectRecord) Attrs() engine.Attrs {
	out := make(engine.Attrs, len(r.Key))
	for i, a := range r.Key {
		out[i] = engine.Attr{Keyword: string(a.Keyword), Value: string(a.Value)}
	}
	return out
}

// Location returns where the stored bytes live.
func (r *ObjectRecord) Location() engine.Location {
	return engine.Location{URI: r.URI, Offset: r.Offset, Length: r.Length}
}

// Timestamp returns the archive time.
func (r *ObjectRecord) Timestamp() time.Time {
	return time.Unix(0, r.ArchivedAt).UTC()
}

// encMode uses Core Deterministic Encoding so identical records produce
// identical bytes.
var encMode cbor.EncMode

// decMode tolerates invalid UTF-8 in text strings; URIs built from
// filesystem roots are not guaranteed to be valid UTF-8.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("metadata: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		UTF8: cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		panic("metadata: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeRecord(r *ObjectRecord) ([]byte, error) {
	data, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*ObjectRecord, error) {
	var r ObjectRecord
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &r, nil
}
