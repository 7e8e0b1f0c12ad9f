package logging

import "errors"

var (
	// ErrInvalidFormat is returned for a log format other than text or json
	ErrInvalidFormat = errors.New("invalid log format")

	// ErrInvalidOutputType is returned when an output URL has an unknown scheme
	ErrInvalidOutputType = errors.New("invalid output type")

	// ErrOutputClosed is returned when writing to a closed output
	ErrOutputClosed = errors.New("log output is closed")
)
