package local

import (
	"errors"
	"fmt"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/internal/schema"
	"github.com/maxiofs/dasi/internal/storage"
	"github.com/maxiofs/dasi/pkg/engine"
)

var errConnClosed = engine.NewError(engine.StatusError, engine.CodeClosed, "connection is closed")

func errCursorClosed() error {
	return engine.NewError(engine.StatusError, engine.CodeClosed, "cursor is closed")
}

func errHandleState(msg string) error {
	return engine.NewError(engine.StatusError, engine.CodeClosed, msg)
}

func errNotFound(format string, args ...any) error {
	return engine.NewError(engine.StatusNotFound, engine.CodeNotFound, fmt.Sprintf(format, args...))
}

func errRange(msg string) error {
	return engine.NewError(engine.StatusError, engine.CodeInvalidRange, msg)
}

func errChecksum(uri string) error {
	return engine.NewError(engine.StatusError, engine.CodeChecksum, "payload checksum mismatch for "+uri)
}

// classify maps an internal failure to the boundary error it is reported as.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var engErr *engine.Error
	switch {
	case errors.As(err, &engErr):
		return err
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, schema.ErrInvalidSchema):
		return engine.NewErrorWithCause(engine.StatusError, engine.CodeInvalidConfig, "invalid engine configuration", err)
	case errors.Is(err, schema.ErrNoMatchingRule):
		return engine.NewErrorWithCause(engine.StatusError, engine.CodeInvalidKey, "key does not match the schema", err)
	case errors.Is(err, metadata.ErrObjectNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		return engine.NewErrorWithCause(engine.StatusNotFound, engine.CodeNotFound, "object not found", err)
	case errors.Is(err, metadata.ErrCorruptRecord),
		errors.Is(err, metadata.ErrNotFound):
		return engine.NewErrorWithCause(engine.StatusError, engine.CodeCatalogue, "catalogue failure", err)
	}
	var storageErr *storage.StorageError
	if errors.As(err, &storageErr) {
		return engine.NewErrorWithCause(engine.StatusError, engine.CodeStorage, "payload store failure", err)
	}
	return engine.NewErrorWithCause(engine.StatusUnexpected, "", "unexpected engine failure", err)
}

func catalogueError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, metadata.ErrObjectNotFound) {
		return classify(err)
	}
	return engine.NewErrorWithCause(engine.StatusError, engine.CodeCatalogue, "catalogue failure", err)
}

func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		return classify(err)
	}
	return engine.NewErrorWithCause(engine.StatusError, engine.CodeStorage, "payload store failure", err)
}
