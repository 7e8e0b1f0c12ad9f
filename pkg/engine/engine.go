// Package engine defines the narrow request/response boundary between the
// dasi client layer and a storage engine implementation.
//
// Everything that crosses the boundary is either a plain value (attributes,
// requests, locations) or an opaque handle owned by the side that created
// it. Engines report failures as *Error values carrying a Status.
package engine

import (
	"context"
	"io"
	"slices"
	"time"
)

// ConfigSource points an engine at its configuration document. Exactly one
// of Path and Document is expected to be set.
type ConfigSource struct {
	Path     string
	Document string
}

// Attr is one keyword/value pair of an object key.
type Attr struct {
	Keyword string
	Value   string
}

// Attrs is an ordered attribute list. Keywords are unique.
type Attrs []Attr

// Lookup returns the value stored for keyword.
func (a Attrs) Lookup(keyword string) (string, bool) {
	for _, attr := range a {
		if attr.Keyword == keyword {
			return attr.Value, true
		}
	}
	return "", false
}

// Term constrains one keyword to a set of candidate values.
type Term struct {
	Keyword string
	Values  []string
}

// Request is an ordered list of terms describing a query.
type Request []Term

// Keywords returns the keywords of the request in order.
func (r Request) Keywords() []string {
	out := make([]string, len(r))
	for i, t := range r {
		out[i] = t.Keyword
	}
	return out
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	if r == nil {
		return nil
	}
	out := make(Request, len(r))
	for i, t := range r {
		out[i] = Term{Keyword: t.Keyword, Values: slices.Clone(t.Values)}
	}
	return out
}

// Lookup returns the candidate values for keyword.
func (r Request) Lookup(keyword string) ([]string, bool) {
	for _, t := range r {
		if t.Keyword == keyword {
			return t.Values, true
		}
	}
	return nil, false
}

// Location identifies the stored bytes of one object.
type Location struct {
	URI    string
	Offset int64
	Length int64
}

// ListEntry describes one object found by a list request.
type ListEntry struct {
	Key       Attrs
	Location  Location
	Timestamp time.Time
}

// RetrieveEntry describes one object matched by a retrieve request. Token
// is opaque to the caller and is only meaningful to Conn.ReadHandle of the
// connection that produced it.
type RetrieveEntry struct {
	Key       Attrs
	Location  Location
	Timestamp time.Time
	Size      int64
	Token     any
}

// WipeEntry names one thing removed (or, in a dry run, that would be
// removed) by a wipe request.
type WipeEntry struct {
	Kind  string
	Value string
}

// Wipe entry kinds.
const (
	WipeKindEntry = "entry"
	WipeKindBlob  = "blob"
)

// Policy names. PolicyAccess selects the four access switches together.
const (
	PolicyAccess         = "access"
	PolicyAccessRetrieve = "access.retrieve"
	PolicyAccessArchive  = "access.archive"
	PolicyAccessList     = "access.list"
	PolicyAccessWipe     = "access.wipe"
)

// Policy is the state of one named switch of a dataset.
type Policy struct {
	Name    string
	Enabled bool
}

// PolicyEntry holds the selected policies of one dataset, identified by the
// first level of its key.
type PolicyEntry struct {
	Key      Attrs
	Policies []Policy
}

// Driver opens engine connections. The client layer receives a Driver from
// its caller instead of relying on a process-wide engine instance.
type Driver interface {
	Open(ctx context.Context, src ConfigSource) (Conn, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, src ConfigSource) (Conn, error)

// Open calls f.
func (f DriverFunc) Open(ctx context.Context, src ConfigSource) (Conn, error) {
	return f(ctx, src)
}

// Conn is one open engine connection.
type Conn interface {
	Archive(ctx context.Context, key Attrs, data []byte) error
	Flush(ctx context.Context) error
	List(ctx context.Context, req Request) (ListCursor, error)
	Retrieve(ctx context.Context, req Request) (RetrieveCursor, error)
	Wipe(ctx context.Context, req Request, doit, recursive bool) (WipeCursor, error)
	ReadHandle(ctx context.Context, entry *RetrieveEntry) (ReadHandle, error)
	Policy(ctx context.Context, req Request, name string) (PolicyCursor, error)
	SetPolicy(ctx context.Context, req Request, name string, enabled bool) (PolicyCursor, error)
	Close() error
}

// ListCursor streams list results. Next returns ErrIteratorEnd once the
// results are exhausted.
type ListCursor interface {
	Next(ctx context.Context) (*ListEntry, error)
	Close() error
}

// RetrieveCursor streams retrieve results. Count is known when the cursor
// is created.
type RetrieveCursor interface {
	Next(ctx context.Context) (*RetrieveEntry, error)
	Count() int
	Close() error
}

// WipeCursor streams the identifiers affected by a wipe.
type WipeCursor interface {
	Next(ctx context.Context) (*WipeEntry, error)
	Close() error
}

// PolicyCursor streams the policies of the datasets matched by a request.
// A cursor returned by SetPolicy applies the change to each dataset as it
// is yielded.
type PolicyCursor interface {
	Next(ctx context.Context) (*PolicyEntry, error)
	Close() error
}

// ReadHandle reads the payload of one object. Open must be called before
// Read or Seek. Read follows io.Reader conventions.
type ReadHandle interface {
	Open(ctx context.Context) error
	io.ReadSeekCloser
}
