package dasi

import (
	"context"
	"iter"

	"github.com/maxiofs/dasi/pkg/engine"
)

// Kinds of WipeItem.
const (
	WipeEntry = engine.WipeKindEntry
	WipeBlob  = engine.WipeKindBlob
)

// WipeItem names one catalogue entry or payload that was removed, or in a
// dry run would be.
type WipeItem struct {
	Kind  string
	Value string
}

// WipeIterator streams the results of Session.Wipe. A destructive wipe
// proceeds as the iterator advances; stopping early leaves the remaining
// matches in place.
type WipeIterator struct {
	it *iterator[*engine.WipeEntry, WipeItem]
}

func newWipeIterator(s *Session, cur engine.WipeCursor) *WipeIterator {
	return &WipeIterator{it: newIterator(s, "wipe", cursor[*engine.WipeEntry](cur), func(e *engine.WipeEntry) WipeItem {
		return WipeItem{Kind: e.Kind, Value: e.Value}
	})}
}

// Next advances to the next item. It returns false with a nil error once
// the results are exhausted.
func (wi *WipeIterator) Next(ctx context.Context) (WipeItem, bool, error) {
	return wi.it.next(ctx)
}

// All ranges over the remaining items and closes the iterator when the
// loop ends.
func (wi *WipeIterator) All(ctx context.Context) iter.Seq2[WipeItem, error] {
	return wi.it.all(ctx)
}

// Close releases the engine cursor and makes a destructive wipe durable.
func (wi *WipeIterator) Close() error {
	return wi.it.close()
}
