package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordValidation(ctx context.Context, errorType string, ms float64)
	RecordQueryDuration(ctx context.Context, ms float64)
	IncrementQueryErrors(ctx context.Context)
	RecordToolDuration(ctx context.Context, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordValidation(context.Context, string, float64) {}
func (NoopInstrumentation) RecordQueryDuration(context.Context, float64)      {}
func (NoopInstrumentation) IncrementQueryErrors(context.Context)              {}
func (NoopInstrumentation) RecordToolDuration(context.Context, float64)       {}
