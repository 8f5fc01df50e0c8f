package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/guillermoBallester/sqlgrader"

// Instruments holds pre-created OTel metric instruments. It implements
// port.Instrumentation.
type Instruments struct {
	ValidationCount    metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	QueryDuration      metric.Float64Histogram
	QueryErrors        metric.Int64Counter
	ToolDuration       metric.Float64Histogram
}

// NewInstruments creates metric instruments from the global MeterProvider.
func NewInstruments() *Instruments {
	return newInstrumentsFromMeter(otel.Meter(meterName))
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return newInstrumentsFromMeter(noop.NewMeterProvider().Meter(meterName))
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	validationCount, _ := meter.Int64Counter("sqlgrader.validation.count",
		metric.WithDescription("Graded submissions by outcome"),
	)
	validationDuration, _ := meter.Float64Histogram("sqlgrader.validation.duration",
		metric.WithDescription("End-to-end grading duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryDuration, _ := meter.Float64Histogram("sqlgrader.query.duration",
		metric.WithDescription("Student and reference statement duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryErrors, _ := meter.Int64Counter("sqlgrader.query.errors",
		metric.WithDescription("Statements the database rejected or failed to run"),
	)
	toolDuration, _ := meter.Float64Histogram("sqlgrader.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		ValidationCount:    validationCount,
		ValidationDuration: validationDuration,
		QueryDuration:      queryDuration,
		QueryErrors:        queryErrors,
		ToolDuration:       toolDuration,
	}
}

// RecordValidation counts one verdict. outcome is "correct", an error type,
// or "error" when no verdict was produced.
func (i *Instruments) RecordValidation(ctx context.Context, outcome string, ms float64) {
	attrs := metric.WithAttributes(attribute.String("error_type", outcome))
	i.ValidationCount.Add(ctx, 1, attrs)
	i.ValidationDuration.Record(ctx, ms, attrs)
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	i.QueryDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementQueryErrors(ctx context.Context) {
	i.QueryErrors.Add(ctx, 1)
}

func (i *Instruments) RecordToolDuration(ctx context.Context, ms float64) {
	i.ToolDuration.Record(ctx, ms)
}
