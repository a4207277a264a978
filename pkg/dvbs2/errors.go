package dvbs2

import "errors"

// Error taxonomy. None of these are recoverable for the configuration that
// produced them; callers match with errors.Is and report the tuple.
var (
	// ErrUnsupportedConfiguration means the requested tuple is not defined by EN 302 307
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")

	// ErrInvalidFrameLength means a derived payload length is not byte aligned
	ErrInvalidFrameLength = errors.New("invalid frame length")

	// ErrMalformedTable means a coefficient table could not be parsed
	ErrMalformedTable = errors.New("malformed table")

	// ErrGroupCountMismatch means an expanded table disagrees with the code's M or K
	ErrGroupCountMismatch = errors.New("group count mismatch")
)
