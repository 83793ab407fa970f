package extraction

import (
	"errors"
	"fmt"
)

// ErrExtraction is matched by every ExtractionError.
var ErrExtraction = errors.New("metadata extraction failed")

// ExtractionError reports content with no resolvable speaker.
type ExtractionError struct {
	Reason string
	// Excerpt is the start of the offending content.
	Excerpt string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error: %s (content %q)", e.Reason, e.Excerpt)
}

// Unwrap lets errors.Is match ErrExtraction.
func (e *ExtractionError) Unwrap() error {
	return ErrExtraction
}

const excerptLen = 40

func excerpt(content string) string {
	r := []rune(content)
	if len(r) <= excerptLen {
		return content
	}
	return string(r[:excerptLen]) + "..."
}
