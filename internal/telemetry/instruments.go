package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const engineScopeName = "github.com/kylemclaren/slowstock/engine"

// Instruments are the lifecycle engine's spans and metrics.
type Instruments struct {
	tracer        trace.Tracer
	transitions   metric.Int64Counter
	archived      metric.Int64Counter
	importRows    metric.Int64Counter
	sweepDuration metric.Float64Histogram
}

// NewInstruments registers the engine instruments on the global providers.
func NewInstruments() *Instruments {
	m := Meter(engineScopeName)
	transitions, _ := m.Int64Counter("slowstock.transitions",
		metric.WithDescription("Task lifecycle transitions applied"),
	)
	archived, _ := m.Int64Counter("slowstock.archived",
		metric.WithDescription("Tasks written to history"),
	)
	importRows, _ := m.Int64Counter("slowstock.import.rows",
		metric.WithDescription("Snapshot rows reconciled"),
	)
	sweepDuration, _ := m.Float64Histogram("slowstock.sweep.duration",
		metric.WithDescription("SLA sweep duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Instruments{
		tracer:        Tracer(engineScopeName),
		transitions:   transitions,
		archived:      archived,
		importRows:    importRows,
		sweepDuration: sweepDuration,
	}
}

// Start opens a span for an engine operation.
func (i *Instruments) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

// End closes span, recording err when set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Transition counts one applied transition.
func (i *Instruments) Transition(ctx context.Context, op string) {
	i.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// Archived counts history rows written with the given outcome.
func (i *Instruments) Archived(ctx context.Context, status string, n int) {
	if n > 0 {
		i.archived.Add(ctx, int64(n), metric.WithAttributes(attribute.String("review_status", status)))
	}
}

// ImportRows counts reconciled snapshot rows.
func (i *Instruments) ImportRows(ctx context.Context, n int) {
	i.importRows.Add(ctx, int64(n))
}

// SweepDone records the duration of a sweep started at start.
func (i *Instruments) SweepDone(ctx context.Context, start time.Time) {
	i.sweepDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
}
