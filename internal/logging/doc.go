// Package logging provides structured logging with OpenTelemetry integration.
//
// The Logger wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout or stderr output, optionally teed to an OTel LoggerProvider
//   - context correlation fields (trace_id, span_id, source, sequence_id, request_id)
//   - redaction of sensitive field names
//   - sampling below Error
//
// Engine packages take a plain *zap.Logger; pass Logger.Underlying().
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSource(ctx, "/logs/chat.txt")
//	logger.Info(ctx, "indexed", zap.Int("segments", n))
package logging
