package segment

import (
	"bytes"
	"regexp"
	"strings"
)

// MarkerKind identifies which boundary shape matched.
type MarkerKind int

const (
	// MarkerSpeaker is a "Label:" line.
	MarkerSpeaker MarkerKind = iota + 1
	// MarkerTimestamp is a "[2024-01-02 10:00]" line.
	MarkerTimestamp
)

// Marker describes a recognized boundary line.
type Marker struct {
	Kind MarkerKind
	// Label is the speaker label. For timestamp markers it is set when a
	// speaker marker follows the bracket on the same line.
	Label string
	// Timestamp is the raw bracket content for timestamp markers.
	Timestamp string
}

var (
	anyLabelPattern  = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_.\-]{0,31}):`)
	timestampPattern = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+\-]\d{2}:?\d{2})?)?)\]`)
)

// Matcher recognizes boundary markers at the start of a line. It is safe for
// concurrent use.
type Matcher struct {
	labels   []string
	anyLabel bool
}

// NewMatcher creates a matcher for the given configuration.
func NewMatcher(cfg Config) *Matcher {
	labels := make([]string, 0, len(cfg.Labels))
	for _, l := range cfg.Labels {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}
	return &Matcher{labels: labels, anyLabel: cfg.AnyLabel}
}

// Match checks a single line (without its terminator).
func (m *Matcher) Match(line []byte) (Marker, bool) {
	if len(line) == 0 {
		return Marker{}, false
	}
	if line[0] == '[' {
		loc := timestampPattern.FindSubmatchIndex(line)
		if loc == nil {
			return Marker{}, false
		}
		mk := Marker{Kind: MarkerTimestamp, Timestamp: string(line[loc[2]:loc[3]])}
		rest := bytes.TrimLeft(line[loc[1]:], " \t")
		if label, ok := m.speaker(rest); ok {
			mk.Label = label
		}
		return mk, true
	}
	if label, ok := m.speaker(line); ok {
		return Marker{Kind: MarkerSpeaker, Label: label}, true
	}
	return Marker{}, false
}

// MatchString is Match for string input.
func (m *Matcher) MatchString(line string) (Marker, bool) {
	return m.Match([]byte(line))
}

func (m *Matcher) speaker(line []byte) (string, bool) {
	for _, label := range m.labels {
		n := len(label)
		if len(line) > n && line[n] == ':' && !isURLColon(line, n) && strings.EqualFold(string(line[:n]), label) {
			return label, true
		}
	}
	if !m.anyLabel {
		return "", false
	}
	loc := anyLabelPattern.FindSubmatchIndex(line)
	if loc == nil {
		return "", false
	}
	if isURLColon(line, loc[3]) {
		return "", false
	}
	return string(line[loc[2]:loc[3]]), true
}

// isURLColon reports whether the colon at i starts a "://" scheme separator.
func isURLColon(line []byte, i int) bool {
	return bytes.HasPrefix(line[i:], []byte("://"))
}
