// Package metadata provides the immutable metadata value attached to chat
// segments and sequences, and the merge algebra used to aggregate it.
//
// Merge is commutative and associative, and Empty is its identity:
//
//	Merge(a, b)           == Merge(b, a)
//	Merge(Merge(a, b), c) == Merge(a, Merge(b, c))
//	Merge(a, Empty())     == a
//
// Participants and keywords merge by set union, lengths add, and the later of
// two present timestamps wins. Set members that differ only in case are one
// member spelled the byte-wise smallest way ("Alice" over "alice"), which
// keeps the result independent of merge order.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNegativeLength is returned by Validate when a length is below zero.
var ErrNegativeLength = errors.New("metadata length cannot be negative")

// Metadata is an immutable value. The zero value is the empty metadata.
//
// Sets are stored as sorted, deduplicated slices that are never mutated after
// construction, so values can be copied and shared freely.
type Metadata struct {
	participants []string
	keywords     []string
	length       int
	timestamp    time.Time
	hasTimestamp bool
}

// Empty returns the identity element of Merge.
func Empty() Metadata {
	return Metadata{}
}

// New builds a Metadata value. Duplicate and empty set members are dropped.
// A negative length is clamped to zero; use Validate on untrusted input first.
func New(participants, keywords []string, length int, ts *time.Time) Metadata {
	m := Metadata{
		participants: normalize(participants),
		keywords:     normalize(keywords),
		length:       length,
	}
	if m.length < 0 {
		m.length = 0
	}
	if ts != nil && !ts.IsZero() {
		m.timestamp = ts.UTC()
		m.hasTimestamp = true
	}
	return m
}

// Validate checks raw constructor inputs.
func Validate(length int) error {
	if length < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeLength, length)
	}
	return nil
}

// Participants returns a sorted copy of the participant set.
func (m Metadata) Participants() []string {
	return clone(m.participants)
}

// Keywords returns a sorted copy of the keyword set.
func (m Metadata) Keywords() []string {
	return clone(m.keywords)
}

// Length returns the character count.
func (m Metadata) Length() int {
	return m.length
}

// Timestamp returns the timestamp and whether one is present.
func (m Metadata) Timestamp() (time.Time, bool) {
	return m.timestamp, m.hasTimestamp
}

// HasParticipant reports whether name is in the participant set, ignoring
// case.
func (m Metadata) HasParticipant(name string) bool {
	return containsFold(m.participants, name)
}

// HasKeyword reports whether kw is in the keyword set, ignoring case.
func (m Metadata) HasKeyword(kw string) bool {
	return containsFold(m.keywords, kw)
}

// IsEmpty reports whether m equals Empty().
func (m Metadata) IsEmpty() bool {
	return Equal(m, Empty())
}

// WithTimestamp returns a copy of m with its timestamp replaced.
func (m Metadata) WithTimestamp(ts time.Time) Metadata {
	out := m
	if ts.IsZero() {
		out.timestamp = time.Time{}
		out.hasTimestamp = false
		return out
	}
	out.timestamp = ts.UTC()
	out.hasTimestamp = true
	return out
}

// Merge combines two values.
func Merge(a, b Metadata) Metadata {
	out := Metadata{
		participants: union(a.participants, b.participants),
		keywords:     union(a.keywords, b.keywords),
		length:       a.length + b.length,
	}
	switch {
	case a.hasTimestamp && b.hasTimestamp:
		out.timestamp = a.timestamp
		if b.timestamp.After(a.timestamp) {
			out.timestamp = b.timestamp
		}
		out.hasTimestamp = true
	case a.hasTimestamp:
		out.timestamp, out.hasTimestamp = a.timestamp, true
	case b.hasTimestamp:
		out.timestamp, out.hasTimestamp = b.timestamp, true
	}
	return out
}

// Fold merges all values, starting from Empty().
func Fold(ms ...Metadata) Metadata {
	acc := Empty()
	for _, m := range ms {
		acc = Merge(acc, m)
	}
	return acc
}

// Equal compares two values structurally.
func Equal(a, b Metadata) bool {
	if a.length != b.length || a.hasTimestamp != b.hasTimestamp {
		return false
	}
	if a.hasTimestamp && !a.timestamp.Equal(b.timestamp) {
		return false
	}
	return equalSlices(a.participants, b.participants) && equalSlices(a.keywords, b.keywords)
}

// String renders a compact debugging form.
func (m Metadata) String() string {
	ts := "-"
	if m.hasTimestamp {
		ts = m.timestamp.Format(time.RFC3339)
	}
	return fmt.Sprintf("participants=%v keywords=%v length=%d timestamp=%s",
		m.participants, m.keywords, m.length, ts)
}

type jsonMetadata struct {
	Participants []string   `json:"participants"`
	Keywords     []string   `json:"keywords"`
	Length       int        `json:"length"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := jsonMetadata{
		Participants: m.Participants(),
		Keywords:     m.Keywords(),
		Length:       m.length,
	}
	if out.Participants == nil {
		out.Participants = []string{}
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if m.hasTimestamp {
		ts := m.timestamp
		out.Timestamp = &ts
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var in jsonMetadata
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if err := Validate(in.Length); err != nil {
		return err
	}
	*m = New(in.Participants, in.Keywords, in.Length, in.Timestamp)
	return nil
}

// normalize drops empty members, folds members that differ only in case to
// their smallest spelling and sorts the result.
func normalize(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	canon := make(map[string]string, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if cur, ok := canon[k]; !ok || s < cur {
			canon[k] = s
		}
	}
	if len(canon) == 0 {
		return nil
	}
	out := make([]string, 0, len(canon))
	for _, s := range canon {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// union merges two normalized slices into a new one. Inputs are never
// modified.
func union(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	return normalize(append(all, b...))
}

func containsFold(set []string, s string) bool {
	for _, m := range set {
		if strings.EqualFold(m, s) {
			return true
		}
	}
	return false
}

func clone(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
