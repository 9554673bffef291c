package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/refacta/internal/engine"

// otelMetrics mirrors the run counters as OpenTelemetry instruments.
type otelMetrics struct {
	runs     metric.Int64Counter
	tokens   metric.Int64Counter
	edits    metric.Int64Counter
	duration metric.Float64Histogram
}

func newOTelMetrics(meter metric.Meter) (*otelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &otelMetrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"refacta.engine.runs.total",
		metric.WithDescription("Total number of specialist runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.tokens, err = meter.Int64Counter(
		"refacta.engine.tokens.total",
		metric.WithDescription("Tokens reported by specialist streams"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	m.edits, err = meter.Int64Counter(
		"refacta.engine.edits.total",
		metric.WithDescription("Edit invocations seen by the engine"),
		metric.WithUnit("{edit}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"refacta.engine.stream.duration.seconds",
		metric.WithDescription("Duration of specialist streams in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *otelMetrics) recordRun(ctx context.Context, run SpecialistRun) {
	if m == nil {
		return
	}
	outcome := attribute.String("outcome", run.Outcome.String())
	spec := attribute.String("specialist", run.Specialist)

	m.runs.Add(ctx, 1, metric.WithAttributes(outcome, spec))
	m.duration.Record(ctx, run.Duration.Seconds(), metric.WithAttributes(outcome))
	m.tokens.Add(ctx, int64(run.InputTokens), metric.WithAttributes(attribute.String("direction", "input")))
	m.tokens.Add(ctx, int64(run.OutputTokens), metric.WithAttributes(attribute.String("direction", "output")))
	m.edits.Add(ctx, int64(len(run.Edits)), metric.WithAttributes(attribute.String("status", "accepted")))
	m.edits.Add(ctx, int64(run.DroppedEdits), metric.WithAttributes(attribute.String("status", "dropped")))
}

func tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
