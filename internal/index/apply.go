package index

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/chatindex/internal/events"
	"github.com/fyrsmithlabs/chatindex/internal/metadata"
)

type slotChange struct {
	kind events.Kind
	seg  *Segment
}

// Apply replaces the segment list of a sequence according to plan in one
// atomic step.
//
// Per-segment events follow the new document order, deletions follow in the
// previous order, and MetadataUpdated (only when the aggregate changed) and
// SequenceUpdated close the batch. A plan that changes nothing commits only
// the provenance fields, emits no events and keeps the revision.
func (s *Store) Apply(ctx context.Context, seqID string, plan Plan) (*Sequence, Changes, error) {
	cands := make([]Candidate, len(plan.Slots))
	for i, sl := range plan.Slots {
		cands[i] = sl.Candidate
	}
	if err := validateCandidates(cands); err != nil {
		return nil, Changes{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, Changes{}, ErrClosed
	}
	rec, ok := s.sequences[seqID]
	if !ok {
		s.mu.Unlock()
		return nil, Changes{}, fmt.Errorf("%w: sequence %s", ErrNotFound, seqID)
	}
	if plan.BaseRevision != 0 && plan.BaseRevision != rec.seq.Revision {
		s.mu.Unlock()
		return nil, Changes{}, fmt.Errorf("%w: base revision %d, stored %d", ErrConflict, plan.BaseRevision, rec.seq.Revision)
	}
	if plan.Source.Path != "" && filepath.Clean(plan.Source.Path) != filepath.Clean(rec.seq.SourceFile) {
		s.mu.Unlock()
		return nil, Changes{}, fmt.Errorf("%w: plan source %s does not match %s", ErrValidation, plan.Source.Path, rec.seq.SourceFile)
	}

	var (
		ch      Changes
		changes []slotChange
	)
	next := make([]*Segment, len(plan.Slots))
	used := make(map[string]struct{}, len(plan.Slots))
	fresh := make(map[string]struct{})

	for i, sl := range plan.Slots {
		var cur *Segment
		if sl.Op == SlotKeep || sl.Op == SlotUpdate {
			if _, member := rec.pos[sl.ID]; !member {
				s.mu.Unlock()
				return nil, Changes{}, fmt.Errorf("%w: slot %d references segment %q outside the sequence", ErrValidation, i, sl.ID)
			}
			if _, dup := used[sl.ID]; dup {
				s.mu.Unlock()
				return nil, Changes{}, fmt.Errorf("%w: slot %d reuses segment %s", ErrValidation, i, sl.ID)
			}
			used[sl.ID] = struct{}{}
			cur = s.segments[sl.ID]
		}

		switch sl.Op {
		case SlotKeep:
			if cur.Hash != sl.Candidate.Hash() {
				s.mu.Unlock()
				return nil, Changes{}, fmt.Errorf("%w: slot %d keeps segment %s with different content", ErrValidation, i, sl.ID)
			}
			seg := *cur
			seg.Start, seg.End = sl.Candidate.Start, sl.Candidate.End
			next[i] = &seg
			if seg.Start != cur.Start || seg.End != cur.End {
				ch.Moved = append(ch.Moved, seg.ID)
				changes = append(changes, slotChange{events.BoundaryChanged, &seg})
			}
		case SlotUpdate:
			seg := newSegment(cur.ID, seqID, sl.Candidate)
			next[i] = seg
			switch {
			case seg.Hash != cur.Hash || !metadata.Equal(seg.Metadata, cur.Metadata):
				ch.Updated = append(ch.Updated, seg.ID)
				changes = append(changes, slotChange{events.SegmentUpdated, seg})
			case seg.Start != cur.Start || seg.End != cur.End:
				ch.Moved = append(ch.Moved, seg.ID)
				changes = append(changes, slotChange{events.BoundaryChanged, seg})
			}
		case SlotCreate:
			id, err := s.allocateID(fresh)
			if err != nil {
				s.mu.Unlock()
				return nil, Changes{}, err
			}
			seg := newSegment(id, seqID, sl.Candidate)
			next[i] = seg
			ch.Created = append(ch.Created, id)
			changes = append(changes, slotChange{events.SegmentCreated, seg})
		default:
			s.mu.Unlock()
			return nil, Changes{}, fmt.Errorf("%w: slot %d has unknown op %d", ErrValidation, i, sl.Op)
		}
	}

	var removed []*Segment
	for _, id := range rec.seq.SegmentIDs {
		if _, kept := used[id]; !kept {
			ch.Deleted = append(ch.Deleted, id)
			removed = append(removed, s.segments[id])
		}
	}

	agg := foldSegments(next)
	ch.MetadataChanged = !metadata.Equal(agg, rec.seq.Aggregate)

	// Provenance is refreshed even when nothing else changed.
	if plan.Source.Path != "" {
		rec.seq.Size = plan.Source.Size
		rec.seq.LastModified = modifiedAt(plan.Source, s.now())
	}
	if ch.Empty() {
		out := rec.seq.clone()
		s.mu.Unlock()
		return &out, ch, nil
	}

	for _, seg := range removed {
		delete(s.segments, seg.ID)
	}
	ids := make([]string, len(next))
	for i, seg := range next {
		s.segments[seg.ID] = seg
		ids[i] = seg.ID
	}
	now := s.now()
	rec.seq.SegmentIDs = ids
	rec.reindexPositions()
	rec.seq.Aggregate = agg
	rec.seq.Revision++
	rec.seq.UpdatedAt = now
	out := rec.seq.clone()

	evs := make([]events.Event, 0, len(changes)+len(removed)+2)
	for _, c := range changes {
		evs = append(evs, segmentEvent(c.kind, &out, c.seg, now))
	}
	for _, seg := range removed {
		evs = append(evs, segmentEvent(events.SegmentDeleted, &out, seg, now))
	}
	evs = append(evs, trailingEvents(&out, ch, now)...)
	s.mu.Unlock()

	recordSizes(0, len(ch.Created)-len(ch.Deleted))
	MutationsTotal.WithLabelValues("apply").Inc()
	s.log.sequenceApplied(ctx, &out, ch)
	return &out, ch, s.notify(ctx, seqID, evs)
}

// modifiedAt returns the modification time of src, falling back to now for
// sources that carry none, such as ingested streams.
func modifiedAt(src Source, now time.Time) time.Time {
	if src.LastModified.IsZero() {
		return now
	}
	return src.LastModified
}
