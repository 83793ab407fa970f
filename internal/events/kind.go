package events

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/chatindex/internal/metadata"
)

// Kind is the finite set of index change notifications.
type Kind int

const (
	SequenceCreated Kind = iota + 1
	SequenceUpdated
	SequenceDeleted
	SegmentCreated
	SegmentUpdated
	SegmentDeleted
	MetadataUpdated
	BoundaryChanged
)

var kindNames = map[Kind]string{
	SequenceCreated: "sequence_created",
	SequenceUpdated: "sequence_updated",
	SequenceDeleted: "sequence_deleted",
	SegmentCreated:  "segment_created",
	SegmentUpdated:  "segment_updated",
	SegmentDeleted:  "segment_deleted",
	MetadataUpdated: "metadata_updated",
	BoundaryChanged: "boundary_changed",
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		SequenceCreated, SequenceUpdated, SequenceDeleted,
		SegmentCreated, SegmentUpdated, SegmentDeleted,
		MetadataUpdated, BoundaryChanged,
	}
}

// Valid reports whether k is a declared kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event describes one committed change.
//
// SegmentID is empty for sequence-level kinds. Metadata carries the segment
// metadata for segment kinds and the sequence aggregate otherwise.
type Event struct {
	Kind       Kind              `json:"kind"`
	SequenceID string            `json:"sequence_id"`
	SegmentID  string            `json:"segment_id,omitempty"`
	SourceFile string            `json:"source_file"`
	Revision   uint64            `json:"revision"`
	Metadata   metadata.Metadata `json:"metadata"`
	At         time.Time         `json:"at"`
}
