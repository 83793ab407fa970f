package extraction

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/chatindex/internal/metadata"
	"github.com/fyrsmithlabs/chatindex/internal/segment"
)

// MetadataExtractor derives metadata from segment content.
type MetadataExtractor interface {
	// Extract requires at least one resolvable speaker.
	Extract(content string) (metadata.Metadata, error)

	// Provisional never fails; participants may be empty.
	Provisional(content string) metadata.Metadata
}

var (
	hashtagPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_&/])#([\p{L}\p{N}_][\p{L}\p{N}_\-]*)`)

	isoPattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})(?:[T ](\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?)(Z|[+\-]\d{2}:?\d{2})?)?`)
)

// Extractor implements MetadataExtractor with the scanner's marker rules.
type Extractor struct {
	matcher *segment.Matcher
}

// NewExtractor creates an extractor that resolves speakers with m.
func NewExtractor(m *segment.Matcher) *Extractor {
	if m == nil {
		m = segment.NewMatcher(segment.DefaultConfig())
	}
	return &Extractor{matcher: m}
}

// Extract derives metadata from content. It fails with ErrExtraction when no
// line of content carries a speaker marker.
func (e *Extractor) Extract(content string) (metadata.Metadata, error) {
	participants := e.participants(content)
	if len(participants) == 0 {
		return metadata.Empty(), &ExtractionError{
			Reason:  "no speaker marker in segment",
			Excerpt: excerpt(content),
		}
	}
	return e.build(content, participants), nil
}

// Provisional derives metadata without requiring a speaker.
func (e *Extractor) Provisional(content string) metadata.Metadata {
	return e.build(content, e.participants(content))
}

func (e *Extractor) build(content string, participants []string) metadata.Metadata {
	var ts *time.Time
	if t, ok := FirstTimestamp(content); ok {
		ts = &t
	}
	return metadata.New(participants, Keywords(content), utf8.RuneCountInString(content), ts)
}

// participants returns every speaker label in content. metadata.New folds
// labels that differ only in case, the same way sequence aggregates do.
func (e *Extractor) participants(content string) []string {
	var out []string
	for len(content) > 0 {
		line := content
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			content = ""
		}
		if mk, ok := e.matcher.MatchString(line); ok && mk.Label != "" {
			out = append(out, mk.Label)
		}
	}
	return out
}

// Keywords returns the case-folded hashtags in content.
func Keywords(content string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		kw := strings.ToLower(strings.TrimRight(m[1], "-"))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

var (
	zoneLayouts = []string{"Z07:00", "-0700"}
	timeLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04"}
)

// FirstTimestamp returns the first token in content that parses as an
// ISO-8601-like date or date-time. Tokens without a zone are read as UTC.
func FirstTimestamp(content string) (time.Time, bool) {
	for _, m := range isoPattern.FindAllStringSubmatch(content, -1) {
		if t, ok := parseISO(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseISO(date, clock, zone string) (time.Time, bool) {
	if clock == "" {
		t, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		return t, err == nil
	}
	for _, tl := range timeLayouts {
		if zone == "" {
			if t, err := time.ParseInLocation("2006-01-02T"+tl, date+"T"+clock, time.UTC); err == nil {
				return t, true
			}
			continue
		}
		for _, zl := range zoneLayouts {
			if t, err := time.Parse("2006-01-02T"+tl+zl, date+"T"+clock+zone); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

var _ MetadataExtractor = (*Extractor)(nil)
