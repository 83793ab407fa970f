package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/events"
	"github.com/fyrsmithlabs/chatindex/internal/metadata"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = newStoreLogger(l) }
}

// WithClock overrides the time source used for CreatedAt, UpdatedAt and
// event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides segment id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithEmitter makes the store publish to em instead of a private emitter.
func WithEmitter(em *events.Emitter) Option {
	return func(s *Store) {
		if em != nil {
			s.emitter = em
		}
	}
}

type sequenceRecord struct {
	seq Sequence
	// pos maps segment id to its index in seq.SegmentIDs.
	pos map[string]int
}

func (r *sequenceRecord) reindexPositions() {
	r.pos = make(map[string]int, len(r.seq.SegmentIDs))
	for i, id := range r.seq.SegmentIDs {
		r.pos[id] = i
	}
}

// Store is the in-memory index. All methods are safe for concurrent use;
// writers are serialized by the store's lock and readers see only committed
// states.
type Store struct {
	mu        sync.RWMutex
	sequences map[string]*sequenceRecord
	bySource  map[string]string // cleaned path -> sequence id
	segments  map[string]*Segment
	closed    bool

	emitter *events.Emitter
	log     *storeLogger
	now     func() time.Time
	newID   func() string
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sequences: make(map[string]*sequenceRecord),
		bySource:  make(map[string]string),
		segments:  make(map[string]*Segment),
		emitter:   events.NewEmitter(),
		log:       newStoreLogger(nil),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emitter returns the emitter the store publishes to.
func (s *Store) Emitter() *events.Emitter {
	return s.emitter
}

// AddSequence creates a sequence for src with one segment per candidate.
// Updates to an existing source go through Apply.
func (s *Store) AddSequence(ctx context.Context, src Source, cands []Candidate) (*Sequence, error) {
	if src.Path == "" {
		return nil, fmt.Errorf("%w: source path is required", ErrValidation)
	}
	if err := validateCandidates(cands); err != nil {
		return nil, err
	}
	key := filepath.Clean(src.Path)
	id := SequenceID(src.Path)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := s.bySource[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, src.Path)
	}
	if _, exists := s.sequences[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: sequence id %s", ErrDuplicateSource, id)
	}

	segs := make([]*Segment, len(cands))
	ids := make([]string, len(cands))
	fresh := make(map[string]struct{}, len(cands))
	for i, c := range cands {
		segID, err := s.allocateID(fresh)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		segs[i] = newSegment(segID, id, c)
		ids[i] = segID
	}

	now := s.now()
	rec := &sequenceRecord{seq: Sequence{
		ID:           id,
		SourceFile:   src.Path,
		SegmentIDs:   ids,
		Aggregate:    foldSegments(segs),
		Size:         src.Size,
		LastModified: modifiedAt(src, now),
		CreatedAt:    now,
		UpdatedAt:    now,
		Revision:     1,
	}}
	rec.reindexPositions()

	s.sequences[id] = rec
	s.bySource[key] = id
	for _, seg := range segs {
		s.segments[seg.ID] = seg
	}
	out := rec.seq.clone()

	evs := make([]events.Event, 0, len(segs)+1)
	evs = append(evs, sequenceEvent(events.SequenceCreated, &out, now))
	for _, seg := range segs {
		evs = append(evs, segmentEvent(events.SegmentCreated, &out, seg, now))
	}
	s.mu.Unlock()

	recordSizes(1, len(segs))
	MutationsTotal.WithLabelValues("add").Inc()
	s.log.sequenceAdded(ctx, &out)
	return &out, s.notify(ctx, id, evs)
}

// GetSegment returns a copy of the segment.
func (s *Store) GetSegment(id string) (Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[id]
	if !ok {
		return Segment{}, fmt.Errorf("%w: segment %s", ErrNotFound, id)
	}
	return *seg, nil
}

// GetSequence returns a copy of the sequence.
func (s *Store) GetSequence(id string) (Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sequences[id]
	if !ok {
		return Sequence{}, fmt.Errorf("%w: sequence %s", ErrNotFound, id)
	}
	return rec.seq.clone(), nil
}

// SequenceForSource looks a sequence up by source path.
func (s *Store) SequenceForSource(path string) (Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySource[filepath.Clean(path)]
	if !ok {
		return Sequence{}, fmt.Errorf("%w: source %s", ErrNotFound, path)
	}
	return s.sequences[id].seq.clone(), nil
}

// SequenceSegments returns the segments of a sequence in document order.
func (s *Store) SequenceSegments(seqID string) ([]Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sequences[seqID]
	if !ok {
		return nil, fmt.Errorf("%w: sequence %s", ErrNotFound, seqID)
	}
	out := make([]Segment, len(rec.seq.SegmentIDs))
	for i, id := range rec.seq.SegmentIDs {
		out[i] = *s.segments[id]
	}
	return out, nil
}

// Next returns the segment after id in its sequence. The boolean is false at
// the end of the sequence.
func (s *Store) Next(id string) (Segment, bool, error) {
	return s.adjacent(id, 1)
}

// Previous returns the segment before id in its sequence. The boolean is
// false at the start of the sequence.
func (s *Store) Previous(id string) (Segment, bool, error) {
	return s.adjacent(id, -1)
}

func (s *Store) adjacent(id string, step int) (Segment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[id]
	if !ok {
		return Segment{}, false, fmt.Errorf("%w: segment %s", ErrNotFound, id)
	}
	rec := s.sequences[seg.SequenceID]
	i := rec.pos[id] + step
	if i < 0 || i >= len(rec.seq.SegmentIDs) {
		return Segment{}, false, nil
	}
	return *s.segments[rec.seq.SegmentIDs[i]], true, nil
}

// Sequences returns all sequences ordered by source path.
func (s *Store) Sequences() []Sequence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sequence, 0, len(s.sequences))
	for _, rec := range s.sequences {
		out = append(out, rec.seq.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceFile < out[j].SourceFile })
	return out
}

// Len returns the number of sequences.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sequences)
}

// SegmentCount returns the number of segments across all sequences.
func (s *Store) SegmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// RemoveSequence deletes a sequence and all of its segments in one step.
func (s *Store) RemoveSequence(ctx context.Context, id string) (*Sequence, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	rec, ok := s.sequences[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: sequence %s", ErrNotFound, id)
	}

	now := s.now()
	out := rec.seq.clone()
	evs := make([]events.Event, 0, len(out.SegmentIDs)+1)
	for _, segID := range out.SegmentIDs {
		evs = append(evs, segmentEvent(events.SegmentDeleted, &out, s.segments[segID], now))
		delete(s.segments, segID)
	}
	evs = append(evs, sequenceEvent(events.SequenceDeleted, &out, now))
	delete(s.sequences, id)
	delete(s.bySource, filepath.Clean(out.SourceFile))
	s.mu.Unlock()

	recordSizes(-1, -len(out.SegmentIDs))
	MutationsTotal.WithLabelValues("remove").Inc()
	s.log.sequenceRemoved(ctx, &out)
	return &out, s.notify(ctx, id, evs)
}

// UpsertSegment replaces the content and metadata of a stored segment, or
// appends seg to the end of its sequence when seg.ID is empty or unknown.
// Offsets must stay ordered relative to the neighbouring segments.
func (s *Store) UpsertSegment(ctx context.Context, seg Segment) (Segment, Changes, error) {
	cand := Candidate{Start: seg.Start, End: seg.End, Content: seg.Content, Metadata: seg.Metadata}
	if err := validateCandidate(0, cand); err != nil {
		return Segment{}, Changes{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Segment{}, Changes{}, ErrClosed
	}
	rec, ok := s.sequences[seg.SequenceID]
	if !ok {
		s.mu.Unlock()
		return Segment{}, Changes{}, fmt.Errorf("%w: sequence %s", ErrNotFound, seg.SequenceID)
	}

	var (
		ch      Changes
		kind    events.Kind
		updated *Segment
	)
	if cur, exists := s.segments[seg.ID]; seg.ID != "" && exists {
		if cur.SequenceID != seg.SequenceID {
			s.mu.Unlock()
			return Segment{}, Changes{}, fmt.Errorf("%w: segment %s belongs to sequence %s", ErrValidation, seg.ID, cur.SequenceID)
		}
		p := rec.pos[seg.ID]
		if err := s.checkNeighbours(rec, p, cand); err != nil {
			s.mu.Unlock()
			return Segment{}, Changes{}, err
		}
		updated = newSegment(cur.ID, cur.SequenceID, cand)
		switch {
		case updated.Hash != cur.Hash || !metadata.Equal(updated.Metadata, cur.Metadata):
			ch.Updated = []string{cur.ID}
			kind = events.SegmentUpdated
		case updated.Start != cur.Start || updated.End != cur.End:
			ch.Moved = []string{cur.ID}
			kind = events.BoundaryChanged
		default:
			out := *cur
			s.mu.Unlock()
			return out, ch, nil
		}
	} else {
		last := len(rec.seq.SegmentIDs) - 1
		if last >= 0 && cand.Start < s.segments[rec.seq.SegmentIDs[last]].End {
			s.mu.Unlock()
			return Segment{}, Changes{}, fmt.Errorf("%w: appended segment starts at %d before end of sequence", ErrValidation, cand.Start)
		}
		id := seg.ID
		if id == "" {
			var err error
			if id, err = s.allocateID(nil); err != nil {
				s.mu.Unlock()
				return Segment{}, Changes{}, err
			}
		}
		updated = newSegment(id, rec.seq.ID, cand)
		ch.Created = []string{id}
		kind = events.SegmentCreated
		rec.seq.SegmentIDs = append(rec.seq.SegmentIDs, id)
		rec.pos[id] = len(rec.seq.SegmentIDs) - 1
	}

	s.segments[updated.ID] = updated
	prevAgg := rec.seq.Aggregate
	rec.seq.Aggregate = s.aggregate(rec)
	ch.MetadataChanged = !metadata.Equal(prevAgg, rec.seq.Aggregate)
	now := s.now()
	rec.seq.Revision++
	rec.seq.UpdatedAt = now
	out := rec.seq.clone()
	segOut := *updated

	evs := []events.Event{segmentEvent(kind, &out, updated, now)}
	evs = append(evs, trailingEvents(&out, ch, now)...)
	s.mu.Unlock()

	if len(ch.Created) > 0 {
		recordSizes(0, 1)
	}
	MutationsTotal.WithLabelValues("upsert").Inc()
	s.log.sequenceApplied(ctx, &out, ch)
	return segOut, ch, s.notify(ctx, out.ID, evs)
}

// Reset drops every sequence. One SequenceDeleted event is emitted per
// dropped sequence.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	now := s.now()
	evs := make([]events.Event, 0, len(s.sequences))
	for _, rec := range s.sequences {
		seq := rec.seq.clone()
		evs = append(evs, sequenceEvent(events.SequenceDeleted, &seq, now))
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].SourceFile < evs[j].SourceFile })
	nSeq, nSeg := s.clearLocked()
	s.mu.Unlock()

	recordSizes(-nSeq, -nSeg)
	MutationsTotal.WithLabelValues("reset").Inc()
	return s.notify(ctx, "", evs)
}

// Close releases all records. Later mutations fail with ErrClosed and
// lookups report ErrNotFound. Close is idempotent and emits no events.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	nSeq, nSeg := s.clearLocked()
	s.mu.Unlock()

	recordSizes(-nSeq, -nSeg)
	return nil
}

func (s *Store) clearLocked() (int, int) {
	nSeq, nSeg := len(s.sequences), len(s.segments)
	s.sequences = make(map[string]*sequenceRecord)
	s.bySource = make(map[string]string)
	s.segments = make(map[string]*Segment)
	return nSeq, nSeg
}

// CheckInvariants verifies the aggregate and id hygiene of a sequence.
func (s *Store) CheckInvariants(seqID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sequences[seqID]
	if !ok {
		return fmt.Errorf("%w: sequence %s", ErrNotFound, seqID)
	}
	seen := make(map[string]struct{}, len(rec.seq.SegmentIDs))
	prevEnd := 0
	for i, id := range rec.seq.SegmentIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate segment id %s", ErrInvariant, id)
		}
		seen[id] = struct{}{}
		seg, ok := s.segments[id]
		if !ok {
			return fmt.Errorf("%w: dangling segment id %s", ErrInvariant, id)
		}
		if seg.SequenceID != seqID {
			return fmt.Errorf("%w: segment %s points at sequence %s", ErrInvariant, id, seg.SequenceID)
		}
		if seg.Start < prevEnd || seg.Start >= seg.End {
			return fmt.Errorf("%w: segment %s offsets [%d,%d) out of order", ErrInvariant, id, seg.Start, seg.End)
		}
		if rec.pos[id] != i {
			return fmt.Errorf("%w: position index stale for %s", ErrInvariant, id)
		}
		prevEnd = seg.End
	}
	if len(rec.pos) != len(rec.seq.SegmentIDs) {
		return fmt.Errorf("%w: position index size %d for %d segments", ErrInvariant, len(rec.pos), len(rec.seq.SegmentIDs))
	}
	if want := s.aggregate(rec); !metadata.Equal(want, rec.seq.Aggregate) {
		return fmt.Errorf("%w: aggregate %s, want %s", ErrInvariant, rec.seq.Aggregate, want)
	}
	return nil
}

func (s *Store) aggregate(rec *sequenceRecord) metadata.Metadata {
	acc := metadata.Empty()
	for _, id := range rec.seq.SegmentIDs {
		acc = metadata.Merge(acc, s.segments[id].Metadata)
	}
	return acc
}

func (s *Store) checkNeighbours(rec *sequenceRecord, p int, c Candidate) error {
	ids := rec.seq.SegmentIDs
	if p > 0 && c.Start < s.segments[ids[p-1]].End {
		return fmt.Errorf("%w: segment overlaps its predecessor", ErrValidation)
	}
	if p < len(ids)-1 && c.End > s.segments[ids[p+1]].Start {
		return fmt.Errorf("%w: segment overlaps its successor", ErrValidation)
	}
	return nil
}

// allocateID returns a generated id not used by any stored segment or by
// the ids in fresh. The new id is added to fresh when fresh is non-nil.
func (s *Store) allocateID(fresh map[string]struct{}) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, taken := s.segments[id]; taken {
			continue
		}
		if _, taken := fresh[id]; taken {
			continue
		}
		if fresh != nil {
			fresh[id] = struct{}{}
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: could not allocate a unique segment id", ErrValidation)
}

func (s *Store) notify(ctx context.Context, seqID string, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	if err := s.emitter.EmitAll(ctx, evs); err != nil {
		s.log.notifyFailed(ctx, seqID, err)
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	return nil
}

func newSegment(id, seqID string, c Candidate) *Segment {
	return &Segment{
		ID:         id,
		SequenceID: seqID,
		Start:      c.Start,
		End:        c.End,
		Content:    c.Content,
		Hash:       c.Hash(),
		Metadata:   c.Metadata,
	}
}

func foldSegments(segs []*Segment) metadata.Metadata {
	acc := metadata.Empty()
	for _, seg := range segs {
		acc = metadata.Merge(acc, seg.Metadata)
	}
	return acc
}

func validateCandidates(cands []Candidate) error {
	if len(cands) == 0 {
		return fmt.Errorf("%w: zero segments", ErrValidation)
	}
	prevEnd := 0
	for i, c := range cands {
		if err := validateCandidate(i, c); err != nil {
			return err
		}
		if c.Start < prevEnd {
			return fmt.Errorf("%w: segment %d starts at %d before previous end %d", ErrValidation, i, c.Start, prevEnd)
		}
		prevEnd = c.End
	}
	return nil
}

func validateCandidate(i int, c Candidate) error {
	if c.Start < 0 || c.Start >= c.End {
		return fmt.Errorf("%w: segment %d has empty or negative range [%d,%d)", ErrValidation, i, c.Start, c.End)
	}
	if len(c.Content) != c.End-c.Start {
		return fmt.Errorf("%w: segment %d content is %d bytes for range of %d", ErrValidation, i, len(c.Content), c.End-c.Start)
	}
	if err := metadata.Validate(c.Metadata.Length()); err != nil {
		return fmt.Errorf("%w: segment %d: %w", ErrValidation, i, err)
	}
	return nil
}

func sequenceEvent(kind events.Kind, seq *Sequence, at time.Time) events.Event {
	return events.Event{
		Kind:       kind,
		SequenceID: seq.ID,
		SourceFile: seq.SourceFile,
		Revision:   seq.Revision,
		Metadata:   seq.Aggregate,
		At:         at,
	}
}

func segmentEvent(kind events.Kind, seq *Sequence, seg *Segment, at time.Time) events.Event {
	ev := sequenceEvent(kind, seq, at)
	ev.SegmentID = seg.ID
	ev.Metadata = seg.Metadata
	return ev
}

// trailingEvents are the sequence-level events that close a mutation.
func trailingEvents(seq *Sequence, ch Changes, at time.Time) []events.Event {
	var evs []events.Event
	if ch.MetadataChanged {
		evs = append(evs, sequenceEvent(events.MetadataUpdated, seq, at))
	}
	return append(evs, sequenceEvent(events.SequenceUpdated, seq, at))
}
