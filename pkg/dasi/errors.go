package dasi

import (
	"errors"
	"strings"

	"github.com/maxiofs/dasi/pkg/engine"
)

// Kind classifies the errors returned by this package.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindValidation
	KindParse
	KindEngine
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation error"
	case KindParse:
		return "parse error"
	case KindEngine:
		return "engine error"
	case KindUnexpected:
		return "unexpected error"
	default:
		return "unknown error"
	}
}

// Error is returned by every fallible operation of a Session, its
// iterators and read handles, and by Key and Query parsing.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "retrieve"
	Code    string // engine error code, if any
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dasi: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels (ErrNotFound, ErrValidation, ...), and any
// *Error target with the same kind and, when the target sets one, the same
// engine code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Kind sentinels, for use with errors.Is.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrValidation = &Error{Kind: KindValidation}
	ErrParse      = &Error{Kind: KindParse}
	ErrEngine     = &Error{Kind: KindEngine}
	ErrUnexpected = &Error{Kind: KindUnexpected}
)

// Misuse of a closed or unopened object.
var (
	ErrSessionClosed     = errors.New("dasi: session is closed")
	ErrIteratorClosed    = errors.New("dasi: iterator is closed")
	ErrHandleNotOpen     = errors.New("dasi: read handle is not open")
	ErrHandleAlreadyOpen = errors.New("dasi: read handle is already open")
	ErrHandleClosed      = errors.New("dasi: read handle is closed")
)

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func parseError(input, msg string) *Error {
	return &Error{Kind: KindParse, Op: "parse", Message: msg + " in " + quote(input)}
}

func notFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

func quote(s string) string {
	return `"` + s + `"`
}

// translate converts an engine failure into the taxonomy of this package.
// It is the only place engine statuses are interpreted.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		return &Error{Kind: KindUnexpected, Op: op, Err: err}
	}

	kind := KindUnexpected
	switch engErr.Status {
	case engine.StatusSuccess:
		return nil
	case engine.StatusNotFound:
		kind = KindNotFound
	case engine.StatusError:
		kind = KindEngine
		if engErr.Code == engine.CodeInvalidKey || engErr.Code == engine.CodeInvalidPolicy {
			kind = KindValidation
		}
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Code:    engErr.Code,
		Message: engErr.Message,
		Err:     engErr.Cause,
	}
}
