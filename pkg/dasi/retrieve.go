package dasi

import (
	"bytes"
	"context"
	"io"
	"iter"
	"time"

	"github.com/maxiofs/dasi/pkg/engine"
)

// RetrieveItem is one object selected by Session.Retrieve.
type RetrieveItem struct {
	Key       *Key
	Timestamp time.Time
	URI       string
	Offset    int64
	Length    int64
	Size      int64 // payload size once decoded

	session *Session
	entry   *engine.RetrieveEntry
}

// Handle returns a new unopened read handle on the payload. Handles are
// independent of each other and of the iterator.
func (ri RetrieveItem) Handle() (*ReadHandle, error) {
	if ri.session == nil || ri.entry == nil {
		return nil, &Error{Kind: KindUnexpected, Op: "handle", Message: "item was not produced by a retrieve"}
	}
	if err := ri.session.check(); err != nil {
		return nil, err
	}
	return &ReadHandle{session: ri.session, entry: ri.entry}, nil
}

// ReadAll reads the whole payload.
func (ri RetrieveItem) ReadAll(ctx context.Context) ([]byte, error) {
	h, err := ri.Handle()
	if err != nil {
		return nil, err
	}
	if err := h.Open(ctx); err != nil {
		return nil, err
	}
	defer h.Close()

	var buf bytes.Buffer
	buf.Grow(int(ri.Size))
	if _, err := io.Copy(&buf, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RetrieveIterator streams the results of Session.Retrieve.
type RetrieveIterator struct {
	it    *iterator[*engine.RetrieveEntry, RetrieveItem]
	count int
}

func newRetrieveIterator(s *Session, cur engine.RetrieveCursor) *RetrieveIterator {
	return &RetrieveIterator{
		count: cur.Count(),
		it: newIterator(s, "retrieve", cursor[*engine.RetrieveEntry](cur), func(e *engine.RetrieveEntry) RetrieveItem {
			return RetrieveItem{
				Key:       keyFromAttrs(e.Key),
				Timestamp: e.Timestamp,
				URI:       e.Location.URI,
				Offset:    e.Location.Offset,
				Length:    e.Location.Length,
				Size:      e.Size,
				session:   s,
				entry:     e,
			}
		}),
	}
}

// Count returns the number of objects the retrieve matched.
func (ri *RetrieveIterator) Count() int {
	return ri.count
}

// Next advances to the next item. It returns false with a nil error once
// the results are exhausted.
func (ri *RetrieveIterator) Next(ctx context.Context) (RetrieveItem, bool, error) {
	return ri.it.next(ctx)
}

// All ranges over the remaining items and closes the iterator when the
// loop ends.
func (ri *RetrieveIterator) All(ctx context.Context) iter.Seq2[RetrieveItem, error] {
	return ri.it.all(ctx)
}

// Close releases the engine cursor. Handles already obtained stay usable.
func (ri *RetrieveIterator) Close() error {
	return ri.it.close()
}
