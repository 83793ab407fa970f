// Package reindex reconciles a re-parsed source against the index.
//
// Parsing and extraction run without any lock and may proceed in parallel
// for different sources. Every store write (reindex, remove, single segment
// upsert, reset) is committed under one commit mutex, so each diff is
// applied to the exact state it was computed from and concurrent writers
// queue instead of conflicting. A failed or cancelled parse never reaches
// the store.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/extraction"
	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/logging"
	"github.com/fyrsmithlabs/chatindex/internal/segment"
)

// Scanner streams segments out of a reader.
type Scanner interface {
	Scan(ctx context.Context, r io.Reader, fn func(segment.Segment) error) (segment.Stats, error)
}

// Result describes one committed reindex.
type Result struct {
	Sequence *index.Sequence
	Changes  index.Changes
	// Created is true when the source had no sequence before.
	Created bool
}

// Option configures a Reindexer.
type Option func(*Reindexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reindexer) {
		if l != nil {
			r.log = logging.New(l).Named("reindex")
		}
	}
}

// WithMetrics sets the OTel instruments. Without it nothing is recorded.
func WithMetrics(m *Metrics) Option {
	return func(r *Reindexer) { r.metrics = m }
}

// Reindexer turns raw source bytes into committed store changes.
type Reindexer struct {
	store     *index.Store
	scanner   Scanner
	extractor extraction.MetadataExtractor

	commitMu sync.Mutex
	log      *logging.Logger
	metrics  *Metrics
}

// New creates a Reindexer.
func New(store *index.Store, scanner Scanner, extractor extraction.MetadataExtractor, opts ...Option) *Reindexer {
	r := &Reindexer{
		store:     store,
		scanner:   scanner,
		extractor: extractor,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Candidates parses and extracts rd without touching the store.
func (r *Reindexer) Candidates(ctx context.Context, rd io.Reader) ([]index.Candidate, error) {
	var cands []index.Candidate
	_, err := r.scanner.Scan(ctx, rd, func(seg segment.Segment) error {
		md, err := r.extractor.Extract(seg.Content)
		if err != nil {
			return fmt.Errorf("segment at offset %d: %w", seg.Start, err)
		}
		cands = append(cands, index.Candidate{
			Start:    seg.Start,
			End:      seg.End,
			Content:  seg.Content,
			Metadata: md,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cands, nil
}

// Reindex parses rd as the new content of src and reconciles the store.
//
// An unknown source becomes a new sequence. A known source is diffed (see
// Diff) and the plan is applied atomically. Input that yields zero segments
// fails with index.ErrValidation and leaves the stored sequence untouched.
//
// When the store reports index.ErrNotify the change is committed and the
// returned Result is valid alongside the error.
func (r *Reindexer) Reindex(ctx context.Context, src index.Source, rd io.Reader) (*Result, error) {
	start := time.Now()
	ctx, span := StartSpan(ctx, "reindex.Reindex", src.Path)
	defer span.End()
	ctx = logging.WithSource(ctx, src.Path)

	res, err := r.reindex(ctx, src, rd)
	outcome := ResultError
	switch {
	case res != nil && res.Created:
		outcome = ResultCreated
	case res != nil && res.Changes.Empty():
		outcome = ResultUnchanged
	case res != nil:
		outcome = ResultUpdated
	}
	r.metrics.RecordReindex(ctx, outcome, time.Since(start))
	span.SetAttributes(attribute.String("chatindex.result", outcome))

	if err != nil {
		RecordError(ctx, err)
		if res == nil {
			r.log.Warn(ctx, "reindex failed", zap.Error(err))
		} else {
			r.log.Warn(ctx, "reindex committed with listener errors", zap.Error(err))
		}
	}
	if res != nil {
		ch := res.Changes
		r.metrics.RecordChanges(ctx, len(ch.Created), len(ch.Updated), len(ch.Moved), len(ch.Deleted))
		span.SetAttributes(
			attribute.Int("chatindex.segments.created", len(ch.Created)),
			attribute.Int("chatindex.segments.updated", len(ch.Updated)),
			attribute.Int("chatindex.segments.deleted", len(ch.Deleted)),
		)
		r.log.Debug(ctx, "reindex done",
			zap.String("sequence_id", res.Sequence.ID),
			zap.String("result", outcome),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return res, err
}

func (r *Reindexer) reindex(ctx context.Context, src index.Source, rd io.Reader) (*Result, error) {
	cands, err := r.Candidates(ctx, rd)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Path, err)
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %s produced zero segments", index.ErrValidation, src.Path)
	}
	// Last chance to honour cancellation before the commit.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	existing, err := r.store.SequenceForSource(src.Path)
	if errors.Is(err, index.ErrNotFound) {
		seq, err := r.store.AddSequence(ctx, src, cands)
		if seq == nil {
			return nil, err
		}
		ids := append([]string(nil), seq.SegmentIDs...)
		return &Result{Sequence: seq, Changes: index.Changes{Created: ids, MetadataChanged: true}, Created: true}, err
	}
	if err != nil {
		return nil, err
	}

	current, err := r.store.SequenceSegments(existing.ID)
	if err != nil {
		return nil, err
	}
	plan := index.Plan{
		Source:       src,
		Slots:        Diff(current, cands),
		BaseRevision: existing.Revision,
	}
	r.log.Trace(ctx, "reindex plan",
		zap.String("sequence_id", existing.ID),
		zap.Int("stored", len(current)),
		zap.Int("slots", len(plan.Slots)),
		zap.Uint64("base_revision", plan.BaseRevision),
	)
	seq, ch, err := r.store.Apply(ctx, existing.ID, plan)
	if seq == nil {
		return nil, err
	}
	return &Result{Sequence: seq, Changes: ch}, err
}

// Remove drops the sequence of path.
func (r *Reindexer) Remove(ctx context.Context, path string) (*index.Sequence, error) {
	start := time.Now()
	ctx, span := StartSpan(ctx, "reindex.Remove", path)
	defer span.End()
	ctx = logging.WithSource(ctx, path)

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	existing, err := r.store.SequenceForSource(path)
	if err != nil {
		RecordError(ctx, err)
		r.metrics.RecordReindex(ctx, ResultError, time.Since(start))
		return nil, err
	}
	ctx = logging.WithSequenceID(ctx, existing.ID)
	seq, err := r.store.RemoveSequence(ctx, existing.ID)
	if seq == nil {
		RecordError(ctx, err)
		r.metrics.RecordReindex(ctx, ResultError, time.Since(start))
		return nil, err
	}
	r.metrics.RecordReindex(ctx, ResultRemoved, time.Since(start))
	r.metrics.RecordChanges(ctx, 0, 0, 0, len(seq.SegmentIDs))
	return seq, err
}

// Upsert re-extracts the metadata of seg from its content and writes it
// through index.Store.UpsertSegment. Extraction runs before the commit lock.
func (r *Reindexer) Upsert(ctx context.Context, seg index.Segment) (index.Segment, index.Changes, error) {
	md, err := r.extractor.Extract(seg.Content)
	if err != nil {
		return index.Segment{}, index.Changes{}, err
	}
	seg.Metadata = md
	ctx = logging.WithSequenceID(ctx, seg.SequenceID)

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	out, ch, err := r.store.UpsertSegment(ctx, seg)
	if err != nil && !errors.Is(err, index.ErrNotify) {
		r.log.Debug(ctx, "segment upsert rejected", zap.String("segment_id", seg.ID), zap.Error(err))
	}
	return out, ch, err
}

// Reset empties the store once no reindex is mid-commit.
func (r *Reindexer) Reset(ctx context.Context) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	n := r.store.Len()
	err := r.store.Reset(ctx)
	if err == nil || errors.Is(err, index.ErrNotify) {
		r.log.Info(ctx, "index reset", zap.Int("sequences", n))
	}
	return err
}
