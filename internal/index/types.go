// Package index provides the in-memory store of chat sequences and segments.
//
// The Store owns every Sequence and Segment record. Callers only ever receive
// copies. Every mutating call keeps two invariants before it returns:
//
//   - a sequence's Aggregate equals metadata.Fold over its segments' metadata
//     in document order
//   - SegmentIDs holds no dangling or duplicate ids
//
// Mutations are validated in full before any state changes, so a rejected
// call leaves the store untouched. Events are emitted after the write lock is
// released.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fyrsmithlabs/chatindex/internal/metadata"
)

// Source is the provenance of a sequence.
type Source struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Candidate is a parsed and extracted segment that has no id yet.
type Candidate struct {
	Start    int
	End      int
	Content  string
	Metadata metadata.Metadata
}

// Hash returns the content hash used to match candidates against stored
// segments.
func (c Candidate) Hash() uint64 {
	return ContentHash(c.Content)
}

// ContentHash hashes segment content.
func ContentHash(content string) uint64 {
	return xxhash.Sum64String(content)
}

// Segment is one contiguous turn-group of a source.
type Segment struct {
	ID         string            `json:"id"`
	SequenceID string            `json:"sequence_id"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Content    string            `json:"content"`
	Hash       uint64            `json:"hash"`
	Metadata   metadata.Metadata `json:"metadata"`
}

// Sequence groups the segments of one source in document order.
type Sequence struct {
	ID           string            `json:"id"`
	SourceFile   string            `json:"source_file"`
	SegmentIDs   []string          `json:"segment_ids"`
	Aggregate    metadata.Metadata `json:"aggregate"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	// Revision increases by one on every committed change.
	Revision uint64 `json:"revision"`
}

func (s *Sequence) clone() Sequence {
	out := *s
	out.SegmentIDs = append([]string(nil), s.SegmentIDs...)
	return out
}

// SequenceID derives the stable sequence id for a source path.
func SequenceID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return "seq_" + hex.EncodeToString(sum[:])[:16]
}

// SlotOp says how a plan slot relates to the stored sequence.
type SlotOp int

const (
	// SlotKeep reuses a stored segment with unchanged content. Only its
	// offsets may move.
	SlotKeep SlotOp = iota + 1
	// SlotUpdate replaces the content of a stored segment and keeps its id.
	SlotUpdate
	// SlotCreate inserts a new segment.
	SlotCreate
)

func (o SlotOp) String() string {
	switch o {
	case SlotKeep:
		return "keep"
	case SlotUpdate:
		return "update"
	case SlotCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Slot is one position of the new document order.
type Slot struct {
	Op SlotOp
	// ID names the stored segment for SlotKeep and SlotUpdate.
	ID        string
	Candidate Candidate
}

// Plan is a complete replacement of a sequence's segment list. Stored
// segments not referenced by any slot are deleted.
type Plan struct {
	Source Source
	Slots  []Slot
	// BaseRevision, when non-zero, must equal the stored revision.
	BaseRevision uint64
}

// Changes summarizes a committed mutation. Ids are in document order;
// Deleted follows the previous order.
type Changes struct {
	Created         []string
	Updated         []string
	Moved           []string
	Deleted         []string
	MetadataChanged bool
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Moved) == 0 &&
		len(c.Deleted) == 0 && !c.MetadataChanged
}

// Count returns the number of per-segment changes.
func (c Changes) Count() int {
	return len(c.Created) + len(c.Updated) + len(c.Moved) + len(c.Deleted)
}
