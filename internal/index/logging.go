package index

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/logging"
)

// storeLogger wraps logging.Logger with store-specific structured logging.
// Correlation fields (trace, request id) come from the context.
type storeLogger struct {
	logger *logging.Logger
}

func newStoreLogger(logger *zap.Logger) *storeLogger {
	return &storeLogger{logger: logging.New(logger).Named("index")}
}

func (l *storeLogger) sequenceAdded(ctx context.Context, seq *Sequence) {
	fields := sequenceFields(seq)
	fields = append(fields, zap.Int("segments", len(seq.SegmentIDs)))
	l.logger.Info(ctx, "sequence added", fields...)
}

func (l *storeLogger) sequenceApplied(ctx context.Context, seq *Sequence, ch Changes) {
	fields := sequenceFields(seq)
	fields = append(fields,
		zap.Int("created", len(ch.Created)),
		zap.Int("updated", len(ch.Updated)),
		zap.Int("moved", len(ch.Moved)),
		zap.Int("deleted", len(ch.Deleted)),
		zap.Bool("metadata_changed", ch.MetadataChanged),
	)
	l.logger.Debug(ctx, "sequence updated", fields...)
}

func (l *storeLogger) sequenceRemoved(ctx context.Context, seq *Sequence) {
	fields := sequenceFields(seq)
	fields = append(fields, zap.Int("segments", len(seq.SegmentIDs)))
	l.logger.Info(ctx, "sequence removed", fields...)
}

func (l *storeLogger) notifyFailed(ctx context.Context, seqID string, err error) {
	l.logger.Warn(ctx, "event listener failed", zap.String("sequence_id", seqID), zap.Error(err))
}

func sequenceFields(seq *Sequence) []zap.Field {
	return []zap.Field{
		zap.String("sequence_id", seq.ID),
		zap.String("source", seq.SourceFile),
		zap.Uint64("revision", seq.Revision),
	}
}
