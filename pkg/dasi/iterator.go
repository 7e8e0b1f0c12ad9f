package dasi

import (
	"context"
	"iter"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/pkg/engine"
)

type iterState int

const (
	stateCreated iterState = iota
	stateHasCurrent
	stateExhausted
	stateFailed
	stateClosed
)

// cursor is the shape shared by the engine list, retrieve and wipe cursors
type cursor[E any] interface {
	Next(ctx context.Context) (E, error)
	Close() error
}

// leaked closes a cursor whose iterator was dropped without Close
type leaked[E any] struct {
	cur    cursor[E]
	op     string
	logger *logrus.Entry
}

func (l leaked[E]) release() {
	l.logger.WithField("operation", l.op).Warn("Iterator was not closed; releasing its engine cursor")
	if err := l.cur.Close(); err != nil {
		l.logger.WithError(err).Warn("Failed to release leaked engine cursor")
	}
}

// iterator drives one engine cursor and converts its entries. Items are
// returned by value from Next, so nothing can observe an item after the
// cursor moved on.
type iterator[E, T any] struct {
	session *Session
	op      string
	cur     cursor[E]
	convert func(E) T
	state   iterState
	err     error
	cleanup runtime.Cleanup
}

func newIterator[E, T any](s *Session, op string, cur cursor[E], convert func(E) T) *iterator[E, T] {
	it := &iterator[E, T]{
		session: s,
		op:      op,
		cur:     cur,
		convert: convert,
	}
	it.cleanup = runtime.AddCleanup(it, leaked[E].release, leaked[E]{cur: cur, op: op, logger: s.logger})
	return it
}

func (it *iterator[E, T]) next(ctx context.Context) (T, bool, error) {
	var zero T
	switch it.state {
	case stateClosed:
		return zero, false, ErrIteratorClosed
	case stateFailed:
		return zero, false, it.err
	case stateExhausted:
		return zero, false, nil
	}
	if err := it.session.check(); err != nil {
		return zero, false, err
	}

	e, err := it.cur.Next(ctx)
	if engine.IsIteratorEnd(err) {
		it.state = stateExhausted
		return zero, false, nil
	}
	if err != nil {
		it.state = stateFailed
		it.err = translate(it.op, err)
		return zero, false, it.err
	}
	it.state = stateHasCurrent
	return it.convert(e), true, nil
}

func (it *iterator[E, T]) all(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer it.close()
		for {
			item, ok, err := it.next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(item, nil) {
				return
			}
		}
	}
}

func (it *iterator[E, T]) close() error {
	if it.state == stateClosed {
		return nil
	}
	it.state = stateClosed
	it.cleanup.Stop()
	if err := it.cur.Close(); err != nil {
		it.session.logger.WithError(err).WithField("operation", it.op).Warn("Failed to close engine cursor")
		return translate(it.op, err)
	}
	return nil
}
