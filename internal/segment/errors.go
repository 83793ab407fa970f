package segment

import (
	"errors"
	"fmt"
)

// ErrFormat is the sentinel matched by every FormatError.
var ErrFormat = errors.New("unrecognized transcript format")

// Configuration errors.
var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrNoLabels         = errors.New("at least one label is required when any_label is disabled")
)

// FormatError reports input the scanner cannot classify.
type FormatError struct {
	// Line is 1-based.
	Line int
	// Offset is the byte offset of the offending line.
	Offset int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error at line %d (offset %d): %s", e.Line, e.Offset, e.Reason)
}

// Unwrap lets errors.Is match ErrFormat.
func (e *FormatError) Unwrap() error {
	return ErrFormat
}
