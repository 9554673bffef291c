package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore builds the stderr/file core and tees it with an otelzap core when
// an OTEL provider is configured. The returned closers release opened files.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, []func() error, error) {
	cores := make([]zapcore.Core, 0, 2)
	var closers []func() error

	if cfg.Output.File != "" || cfg.Output.Stderr {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}

		var writer zapcore.WriteSyncer
		if cfg.Output.File != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Output.File), 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating log directory: %w", err)
			}
			f, err := os.OpenFile(cfg.Output.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("opening log file: %w", err)
			}
			closers = append(closers, f.Close)
			writer = zapcore.AddSync(f)
		} else {
			writer = zapcore.Lock(os.Stderr)
		}
		cores = append(cores, zapcore.NewCore(encoder, writer, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("github.com/fyrsmithlabs/refacta",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("at least one output must be enabled and available")
	}
	if len(cores) == 1 {
		return cores[0], closers, nil
	}
	return zapcore.NewTee(cores...), closers, nil
}
