package orders

import "errors"

// Error kinds surfaced to callers. Storage failures are returned wrapped
// as-is and treated as internal by the transport.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)
