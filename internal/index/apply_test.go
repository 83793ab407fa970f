package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chatindex/internal/events"
)

func TestApply(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		before    []string
		after     []string
		slots     func(ids []string) []SlotOp
		created   int
		updated   int
		moved     int
		deleted   int
		wantKinds []events.Kind
	}{
		{
			name:   "no change",
			before: []string{"Me: a\n", "Assistant: b\n"},
			after:  []string{"Me: a\n", "Assistant: b\n"},
			slots:  func([]string) []SlotOp { return []SlotOp{SlotKeep, SlotKeep} },
		},
		{
			name:      "update last",
			before:    []string{"Me: a\n", "Assistant: b\n"},
			after:     []string{"Me: a\n", "Assistant: c\n"},
			slots:     func([]string) []SlotOp { return []SlotOp{SlotKeep, SlotUpdate} },
			updated:   1,
			wantKinds: []events.Kind{events.SegmentUpdated, events.SequenceUpdated},
		},
		{
			name:      "grow first moves second",
			before:    []string{"Me: a\n", "Assistant: b\n"},
			after:     []string{"Me: aaaa\n", "Assistant: b\n"},
			slots:     func([]string) []SlotOp { return []SlotOp{SlotUpdate, SlotKeep} },
			updated:   1,
			moved:     1,
			wantKinds: []events.Kind{events.SegmentUpdated, events.BoundaryChanged, events.MetadataUpdated, events.SequenceUpdated},
		},
		{
			name:      "append",
			before:    []string{"Me: a\n"},
			after:     []string{"Me: a\n", "User: #new\n"},
			slots:     func([]string) []SlotOp { return []SlotOp{SlotKeep, SlotCreate} },
			created:   1,
			wantKinds: []events.Kind{events.SegmentCreated, events.MetadataUpdated, events.SequenceUpdated},
		},
		{
			name:      "drop middle",
			before:    []string{"Me: a\n", "Bob: b\n", "Me: c\n"},
			after:     []string{"Me: a\n", "Me: c\n"},
			slots:     func([]string) []SlotOp { return []SlotOp{SlotKeep, SlotKeep} },
			moved:     1,
			deleted:   1,
			wantKinds: []events.Kind{events.BoundaryChanged, events.SegmentDeleted, events.MetadataUpdated, events.SequenceUpdated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := newTestStore(t)
			seq, err := s.AddSequence(ctx, Source{Path: "/logs/a.txt"}, candidates(tt.before...))
			require.NoError(t, err)
			rec.Clear()

			ops := tt.slots(seq.SegmentIDs)
			after := candidates(tt.after...)
			plan := Plan{Source: Source{Path: "/logs/a.txt", Size: 99}, BaseRevision: seq.Revision}
			for i, c := range after {
				sl := Slot{Op: ops[i], Candidate: c}
				if ops[i] != SlotCreate {
					// Keep slots point at the stored segment with equal content.
					for _, id := range seq.SegmentIDs {
						seg, err := s.GetSegment(id)
						require.NoError(t, err)
						if (ops[i] == SlotKeep && seg.Hash == c.Hash()) || (ops[i] == SlotUpdate && seg.Start == c.Start) {
							sl.ID = id
							break
						}
					}
				}
				plan.Slots = append(plan.Slots, sl)
			}

			out, ch, err := s.Apply(ctx, seq.ID, plan)
			require.NoError(t, err)
			require.NoError(t, s.CheckInvariants(seq.ID))

			assert.Len(t, ch.Created, tt.created)
			assert.Len(t, ch.Updated, tt.updated)
			assert.Len(t, ch.Moved, tt.moved)
			assert.Len(t, ch.Deleted, tt.deleted)
			assert.Equal(t, tt.wantKinds, rec.Kinds())
			assert.Equal(t, int64(99), out.Size)

			if ch.Empty() {
				assert.Equal(t, seq.Revision, out.Revision)
			} else {
				assert.Equal(t, seq.Revision+1, out.Revision)
			}

			segs, err := s.SequenceSegments(seq.ID)
			require.NoError(t, err)
			require.Len(t, segs, len(tt.after))
			for i, seg := range segs {
				assert.Equal(t, tt.after[i], seg.Content)
			}
		})
	}
}

func TestApply_Rejections(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	seq, err := s.AddSequence(ctx, Source{Path: "/logs/a.txt"}, candidates("Me: a\n", "Me: b\n"))
	require.NoError(t, err)
	other, err := s.AddSequence(ctx, Source{Path: "/logs/b.txt"}, candidates("Me: z\n"))
	require.NoError(t, err)
	rec.Clear()

	c := candidates("Me: a\n", "Me: b\n")
	keepBoth := []Slot{
		{Op: SlotKeep, ID: seq.SegmentIDs[0], Candidate: c[0]},
		{Op: SlotKeep, ID: seq.SegmentIDs[1], Candidate: c[1]},
	}

	tests := []struct {
		name string
		seq  string
		plan Plan
		want error
	}{
		{name: "zero segments", seq: seq.ID, plan: Plan{}, want: ErrValidation},
		{name: "unknown sequence", seq: "seq_missing", plan: Plan{Slots: keepBoth}, want: ErrNotFound},
		{name: "stale revision", seq: seq.ID, plan: Plan{Slots: keepBoth, BaseRevision: 7}, want: ErrConflict},
		{name: "foreign segment", seq: seq.ID, plan: Plan{Slots: []Slot{{Op: SlotUpdate, ID: other.SegmentIDs[0], Candidate: c[0]}}}, want: ErrValidation},
		{name: "reused id", seq: seq.ID, plan: Plan{Slots: []Slot{
			{Op: SlotUpdate, ID: seq.SegmentIDs[0], Candidate: c[0]},
			{Op: SlotUpdate, ID: seq.SegmentIDs[0], Candidate: c[1]},
		}}, want: ErrValidation},
		{name: "keep with different content", seq: seq.ID, plan: Plan{Slots: []Slot{
			{Op: SlotKeep, ID: seq.SegmentIDs[1], Candidate: c[0]},
		}}, want: ErrValidation},
		{name: "wrong source", seq: seq.ID, plan: Plan{Source: Source{Path: "/logs/b.txt"}, Slots: keepBoth}, want: ErrValidation},
		{name: "unknown op", seq: seq.ID, plan: Plan{Slots: []Slot{{Op: SlotOp(42), Candidate: c[0]}}}, want: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Apply(ctx, tt.seq, tt.plan)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	after, err := s.GetSequence(seq.ID)
	require.NoError(t, err)
	assert.Equal(t, seq.SegmentIDs, after.SegmentIDs)
	assert.Equal(t, seq.Revision, after.Revision)
	assert.Empty(t, rec.Events(), "rejected plans emit nothing")
	require.NoError(t, s.CheckInvariants(seq.ID))
}

func TestApply_EventRevisionAndTimestamps(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	seq, err := s.AddSequence(ctx, Source{Path: "/logs/a.txt"}, candidates("Me: a\n"))
	require.NoError(t, err)
	rec.Clear()

	c := candidates("Me: b\n")
	out, _, err := s.Apply(ctx, seq.ID, Plan{Slots: []Slot{{Op: SlotUpdate, ID: seq.SegmentIDs[0], Candidate: c[0]}}})
	require.NoError(t, err)

	for _, ev := range rec.Events() {
		assert.Equal(t, out.Revision, ev.Revision)
		assert.Equal(t, seq.ID, ev.SequenceID)
		assert.Equal(t, "/logs/a.txt", ev.SourceFile)
		assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), ev.At)
	}
}
