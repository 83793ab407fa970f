package engine

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/chatindex/internal/index"
)

// Filter selects segments in FindSegments. The set of filters is closed:
// only the types in this package implement it.
type Filter interface {
	matches(seq *index.Sequence, seg *index.Segment) bool
}

// ParticipantFilter keeps segments spoken by Name (case-insensitive).
type ParticipantFilter struct {
	Name string
}

func (f ParticipantFilter) matches(_ *index.Sequence, seg *index.Segment) bool {
	return seg.Metadata.HasParticipant(f.Name)
}

// KeywordFilter keeps segments tagged with Keyword. The leading '#' is
// optional.
type KeywordFilter struct {
	Keyword string
}

func (f KeywordFilter) matches(_ *index.Sequence, seg *index.Segment) bool {
	return seg.Metadata.HasKeyword(strings.ToLower(strings.TrimPrefix(f.Keyword, "#")))
}

// TimeRangeFilter keeps segments whose timestamp lies in [After, Before).
// A zero bound is open. Segments without a timestamp never match.
type TimeRangeFilter struct {
	After  time.Time
	Before time.Time
}

func (f TimeRangeFilter) matches(_ *index.Sequence, seg *index.Segment) bool {
	ts, ok := seg.Metadata.Timestamp()
	if !ok {
		return false
	}
	if !f.After.IsZero() && ts.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && !ts.Before(f.Before) {
		return false
	}
	return true
}

// SourceFilter keeps segments of one source file.
type SourceFilter struct {
	Path string
}

func (f SourceFilter) matches(seq *index.Sequence, _ *index.Segment) bool {
	return filepath.Clean(seq.SourceFile) == filepath.Clean(f.Path)
}

// TextFilter keeps segments whose content contains Query, ignoring case.
type TextFilter struct {
	Query string
}

func (f TextFilter) matches(_ *index.Sequence, seg *index.Segment) bool {
	return strings.Contains(strings.ToLower(seg.Content), strings.ToLower(f.Query))
}

func matchAll(filters []Filter, seq *index.Sequence, seg *index.Segment) bool {
	for _, f := range filters {
		if f != nil && !f.matches(seq, seg) {
			return false
		}
	}
	return true
}
