// Package logging provides structured logging for refacta.
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - stderr or file output, optionally teed into OpenTelemetry via otelzap
//   - automatic context fields (trace_id, run.id, session.id, specialist)
//   - key and pattern based secret redaction
//
// stdout is never written to: the CLI prints results there and the live
// terminal view owns the screen.
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithSpecialist(ctx, "python-refactorer")
//	logger.Info(ctx, "edit accepted", zap.String("file", path))
package logging
