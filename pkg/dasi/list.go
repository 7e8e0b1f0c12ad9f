package dasi

import (
	"context"
	"iter"
	"time"

	"github.com/maxiofs/dasi/pkg/engine"
)

// ListItem describes one archived object and where its payload lives.
type ListItem struct {
	Key       *Key
	URI       string
	Timestamp time.Time
	Offset    int64
	Length    int64
}

// ListIterator streams the results of Session.List.
type ListIterator struct {
	it *iterator[*engine.ListEntry, ListItem]
}

func newListIterator(s *Session, cur engine.ListCursor) *ListIterator {
	return &ListIterator{it: newIterator(s, "list", cursor[*engine.ListEntry](cur), func(e *engine.ListEntry) ListItem {
		return ListItem{
			Key:       keyFromAttrs(e.Key),
			URI:       e.Location.URI,
			Timestamp: e.Timestamp,
			Offset:    e.Location.Offset,
			Length:    e.Location.Length,
		}
	})}
}

// Next advances to the next item. It returns false with a nil error once
// the results are exhausted. After an error the iterator keeps returning
// that error.
func (li *ListIterator) Next(ctx context.Context) (ListItem, bool, error) {
	return li.it.next(ctx)
}

// All ranges over the remaining items and closes the iterator when the
// loop ends. An error is yielded once as the last element.
func (li *ListIterator) All(ctx context.Context) iter.Seq2[ListItem, error] {
	return li.it.all(ctx)
}

// Close releases the engine cursor. Calling it again is a no-op.
func (li *ListIterator) Close() error {
	return li.it.close()
}
