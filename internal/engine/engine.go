// Package engine is the entry point consumers use to index chat transcripts
// and read the resulting structure.
//
// An Engine wires the segment scanner, the metadata extractor, the index
// store, the event emitter and the reindexer together. It has an explicit
// lifecycle: New, Reset and Close.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/chatindex/internal/config"
	"github.com/fyrsmithlabs/chatindex/internal/events"
	"github.com/fyrsmithlabs/chatindex/internal/extraction"
	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/metadata"
	"github.com/fyrsmithlabs/chatindex/internal/reindex"
	"github.com/fyrsmithlabs/chatindex/internal/segment"
)

const instrumentationName = "github.com/fyrsmithlabs/chatindex/internal/engine"

// Defaults for Config.
const (
	DefaultMaxSourceBytes   = config.DefaultMaxSourceBytes
	DefaultParseConcurrency = config.DefaultParseConcurrency
)

// Config holds engine settings.
type Config struct {
	Parser segment.Config
	// MaxSourceBytes caps a single source. Zero uses the default; a negative
	// value disables the cap.
	MaxSourceBytes int64
	// ParseConcurrency bounds parallel parsing in IndexFiles.
	ParseConcurrency int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Parser:           segment.DefaultConfig(),
		MaxSourceBytes:   DefaultMaxSourceBytes,
		ParseConcurrency: DefaultParseConcurrency,
	}
}

// ConfigFrom converts the parser and engine sections of a loaded
// configuration to an engine Config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Parser:           c.SegmentConfig(),
		MaxSourceBytes:   c.Engine.MaxSourceBytes,
		ParseConcurrency: c.Engine.ParseConcurrency,
	}
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	sources SourceReader
	metrics *reindex.Metrics
	storeOp []index.Option
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSourceReader replaces the file system source reader.
func WithSourceReader(r SourceReader) Option {
	return func(o *options) { o.sources = r }
}

// WithMetrics enables reindex OTel instruments.
func WithMetrics(m *reindex.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStoreOptions passes extra options to the index store.
func WithStoreOptions(opts ...index.Option) Option {
	return func(o *options) { o.storeOp = append(o.storeOp, opts...) }
}

// Engine is the chat index facade.
type Engine struct {
	cfg       Config
	scanner   *segment.Scanner
	extractor *extraction.Extractor
	emitter   *events.Emitter
	store     *index.Store
	reindexer *reindex.Reindexer
	sources   SourceReader
	log       *zap.Logger
}

// New builds an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.MaxSourceBytes == 0 {
		cfg.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if cfg.ParseConcurrency <= 0 {
		cfg.ParseConcurrency = DefaultParseConcurrency
	}

	scanner, err := segment.NewScanner(cfg.Parser)
	if err != nil {
		return nil, fmt.Errorf("parser config: %w", err)
	}
	cfg.Parser = scanner.Config()

	if o.sources == nil {
		o.sources = FileSystem{MaxBytes: cfg.MaxSourceBytes}
	}

	emitter := events.NewEmitter()
	storeOpts := append([]index.Option{index.WithEmitter(emitter), index.WithLogger(o.logger)}, o.storeOp...)
	store := index.NewStore(storeOpts...)
	extractor := extraction.NewExtractor(scanner.Matcher())

	return &Engine{
		cfg:       cfg,
		scanner:   scanner,
		extractor: extractor,
		emitter:   emitter,
		store:     store,
		reindexer: reindex.New(store, scanner, extractor, reindex.WithLogger(o.logger), reindex.WithMetrics(o.metrics)),
		sources:   o.sources,
		log:       o.logger.Named("engine"),
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ParseFile segments a file without touching the index. Segments have no
// id; SequenceID is the id the file would be indexed under, and metadata is
// provisional (participants may be empty).
func (e *Engine) ParseFile(ctx context.Context, path string) ([]index.Segment, error) {
	rc, src, err := e.sources.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	seqID := index.SequenceID(src.Path)
	var out []index.Segment
	_, err = e.scanner.Scan(ctx, rc, func(seg segment.Segment) error {
		out = append(out, index.Segment{
			SequenceID: seqID,
			Start:      seg.Start,
			End:        seg.End,
			Content:    seg.Content,
			Hash:       index.ContentHash(seg.Content),
			Metadata:   e.extractor.Provisional(seg.Content),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// ExtractMetadata returns the aggregate metadata of a file without touching
// the index.
func (e *Engine) ExtractMetadata(ctx context.Context, path string) (metadata.Metadata, error) {
	rc, _, err := e.sources.Open(ctx, path)
	if err != nil {
		return metadata.Empty(), err
	}
	defer rc.Close()

	cands, err := e.reindexer.Candidates(ctx, rc)
	if err != nil {
		return metadata.Empty(), fmt.Errorf("extract %s: %w", path, err)
	}
	ms := make([]metadata.Metadata, len(cands))
	for i, c := range cands {
		ms[i] = c.Metadata
	}
	return metadata.Fold(ms...), nil
}

// ProcessSegment re-extracts the metadata of seg from its content and stores
// it. A known id replaces that segment; an empty or unknown id appends seg
// to the end of its sequence.
func (e *Engine) ProcessSegment(ctx context.Context, seg index.Segment) error {
	_, _, err := e.reindexer.Upsert(ctx, seg)
	return err
}

// GetSegment looks up a segment by id.
func (e *Engine) GetSegment(id string) (index.Segment, error) {
	return e.store.GetSegment(id)
}

// GetSequence looks up a sequence by id.
func (e *Engine) GetSequence(id string) (index.Sequence, error) {
	return e.store.GetSequence(id)
}

// AllSequences returns every sequence ordered by source path.
func (e *Engine) AllSequences() []index.Sequence {
	return e.store.Sequences()
}

// SequenceSegments returns the segments of a sequence in document order.
func (e *Engine) SequenceSegments(seqID string) ([]index.Segment, error) {
	return e.store.SequenceSegments(seqID)
}

// NextSegment returns the following segment of the same sequence, if any.
func (e *Engine) NextSegment(id string) (index.Segment, bool, error) {
	return e.store.Next(id)
}

// PreviousSegment returns the preceding segment of the same sequence, if any.
func (e *Engine) PreviousSegment(id string) (index.Segment, bool, error) {
	return e.store.Previous(id)
}

// On subscribes to one event kind.
func (e *Engine) On(kind events.Kind, fn events.Listener) events.Subscription {
	return e.emitter.On(kind, fn)
}

// OnAll subscribes to every event kind.
func (e *Engine) OnAll(fn events.Listener) []events.Subscription {
	return e.emitter.OnAll(fn)
}

// Off removes a subscription.
func (e *Engine) Off(sub events.Subscription) bool {
	return e.emitter.Off(sub)
}

// IndexFile reads path and reconciles it into the index.
func (e *Engine) IndexFile(ctx context.Context, path string) (*reindex.Result, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "engine.IndexFile")
	defer span.End()
	span.SetAttributes(attribute.String("chatindex.source", path))

	rc, src, err := e.sources.Open(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rc.Close()

	res, err := e.reindexer.Reindex(ctx, src, rc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// IndexFiles indexes paths with bounded parallelism. One file failing does
// not stop the others; the returned results are in path order with nil
// entries for failed files, and the error joins every failure.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) ([]*reindex.Result, error) {
	results := make([]*reindex.Result, len(paths))
	errs := make([]error, len(paths))

	var g errgroup.Group
	g.SetLimit(e.cfg.ParseConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := e.IndexFile(ctx, p)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("index %s: %w", p, err)
				e.log.Warn("index file failed", zap.String("source", p), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Ingest reconciles content read from r as the new content of path.
//
// The content is buffered so the stored sequence records its byte size; the
// store stamps LastModified with its own clock.
func (e *Engine) Ingest(ctx context.Context, path string, r io.Reader) (*reindex.Result, error) {
	data, err := io.ReadAll(LimitReader(r, path, e.cfg.MaxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	src := index.Source{Path: path, Size: int64(len(data))}
	return e.reindexer.Reindex(ctx, src, bytes.NewReader(data))
}

// RemoveSource drops the sequence of path.
func (e *Engine) RemoveSource(ctx context.Context, path string) (*index.Sequence, error) {
	return e.reindexer.Remove(ctx, path)
}

// FindSegments returns the segments matching every filter, ordered by
// source path and then document order.
func (e *Engine) FindSegments(filters ...Filter) []index.Segment {
	var out []index.Segment
	for _, seq := range e.store.Sequences() {
		segs, err := e.store.SequenceSegments(seq.ID)
		if err != nil {
			// Removed between the two reads.
			continue
		}
		for i := range segs {
			if matchAll(filters, &seq, &segs[i]) {
				out = append(out, segs[i])
			}
		}
	}
	return out
}

// Stats returns sequence and segment counts.
func (e *Engine) Stats() (sequences, segments int) {
	return e.store.Len(), e.store.SegmentCount()
}

// Reset drops all indexed content. Subscriptions are kept.
func (e *Engine) Reset(ctx context.Context) error {
	return e.reindexer.Reset(ctx)
}

// Close releases the index. The engine is unusable afterwards.
func (e *Engine) Close() error {
	return e.store.Close()
}
