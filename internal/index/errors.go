package index

import "errors"

// Lookup and lifecycle errors.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("index store is closed")
)

// Mutation errors.
var (
	ErrValidation      = errors.New("validation failed")
	ErrDuplicateSource = errors.New("a live sequence already exists for source")
	ErrConflict        = errors.New("sequence changed since plan was computed")
	ErrInvariant       = errors.New("index invariant violated")
)

// ErrNotify is returned alongside a committed result when one or more event
// listeners failed. The mutation itself is not rolled back.
var ErrNotify = errors.New("event delivery failed")
