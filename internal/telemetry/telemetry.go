// Package telemetry wires the engine's structured logger (zap) and
// process metrics (prometheus) — the ambient observability stack
// spec.md §7 requires ("structured {level, component, correlationId,
// ...}" logging that "never throws") even though the HTML/WebSocket
// dashboard itself is out of scope.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process-wide logger. Production mode emits JSON
// at info level; a debug flag switches to a human-readable console
// encoder, mirroring the teacher's emoji-prefixed console output but
// with structured fields instead of string interpolation.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Component returns a child logger tagged with a component field, the
// unit every engine package logs under per spec.md §7.
func Component(l *zap.Logger, name string) *zap.Logger {
	return l.With(zap.String("component", name))
}

// WithCorrelation tags a logger with a correlation id for a single
// trade/signal's lifecycle, so every log line touching it can be
// grepped together.
func WithCorrelation(l *zap.Logger, correlationID string) *zap.Logger {
	return l.With(zap.String("correlation_id", correlationID))
}
