// Package dasi is the client access layer of a schema-governed archival
// store. Callers describe data with a Key, select it with a Query, and
// stream results through iterators bound to an open Session.
//
// The storage engine sits behind the narrow boundary of package engine and
// is supplied by the caller as an engine.Driver.
package dasi

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/pkg/engine"
)

// ConfigFile references an engine configuration document on disk.
func ConfigFile(path string) engine.ConfigSource {
	return engine.ConfigSource{Path: path}
}

// ConfigString passes an engine configuration document inline.
func ConfigString(doc string) engine.ConfigSource {
	return engine.ConfigSource{Document: doc}
}

type options struct {
	logger *logrus.Logger
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used for session diagnostics.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Session is one open engine connection. It is not safe for concurrent
// use; everything obtained from it is valid until Close.
type Session struct {
	id     string
	conn   engine.Conn
	logger *logrus.Entry
	closed bool
}

// Open connects to the store described by src through driver. On failure
// no Session is returned and nothing stays open.
func Open(ctx context.Context, driver engine.Driver, src engine.ConfigSource, opts ...Option) (*Session, error) {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if driver == nil {
		return nil, &Error{Kind: KindEngine, Op: "open", Code: engine.CodeInvalidConfig, Message: "no engine driver"}
	}

	conn, err := driver.Open(ctx, src)
	if err != nil {
		return nil, translate("open", err)
	}

	s := &Session{
		id:   uuid.New().String(),
		conn: conn,
	}
	s.logger = o.logger.WithField("session_id", s.id)
	s.logger.Debug("Opened session")
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// Archive stores data under key. The key must match the store schema
// exactly, otherwise an ErrValidation error is returned.
func (s *Session) Archive(ctx context.Context, key *Key, data []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if key == nil || key.Count() == 0 {
		return &Error{Kind: KindValidation, Op: "archive", Message: "empty key"}
	}

	start := time.Now()
	if err := s.conn.Archive(ctx, key.attrs(), data); err != nil {
		return translate("archive", err)
	}
	s.logger.WithFields(logrus.Fields{
		"key":      key.String(),
		"size":     len(data),
		"duration": time.Since(start),
	}).Debug("Archived")
	return nil
}

// Flush makes everything archived so far recoverable.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return translate("flush", s.conn.Flush(ctx))
}

// Retrieve selects the objects of query for reading. Every combination of
// the candidate values must name an archived object; if any does not, the
// whole call fails with an ErrNotFound error and no iterator is returned.
func (s *Session) Retrieve(ctx context.Context, query *Query) (*RetrieveIterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.conn.Retrieve(ctx, query.request())
	if err != nil {
		return nil, translate("retrieve", err)
	}
	return newRetrieveIterator(s, cur), nil
}

// List describes the archived objects matching query. No match is not an
// error: the iterator is simply empty.
func (s *Session) List(ctx context.Context, query *Query) (*ListIterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.conn.List(ctx, query.request())
	if err != nil {
		return nil, translate("list", err)
	}
	return newListIterator(s, cur), nil
}

// Wipe removes the objects matching query, or with doit false only reports
// what would be removed. With recursive set, objects below the granularity
// of the query are included.
func (s *Session) Wipe(ctx context.Context, query *Query, doit, recursive bool) (*WipeIterator, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	cur, err := s.conn.Wipe(ctx, query.request(), doit, recursive)
	if err != nil {
		return nil, translate("wipe", err)
	}
	s.logger.WithFields(logrus.Fields{
		"query":     query.String(),
		"doit":      doit,
		"recursive": recursive,
	}).Info("Wipe started")
	return newWipeIterator(s, cur), nil
}

// Close releases the engine connection. Calling it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close engine connection")
		return translate("close", err)
	}
	s.logger.Debug("Closed session")
	return nil
}
