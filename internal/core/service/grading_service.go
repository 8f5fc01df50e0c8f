package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// ErrCancelled is returned instead of a verdict when the caller cancels a
// validation. A cancelled call is neither correct nor incorrect.
var ErrCancelled = errors.New("validation cancelled")

type toolNameKey struct{}

// WithToolName returns a context carrying the MCP tool name for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// Submission is one grading request.
type Submission struct {
	StudentSQL     string
	ReferenceSQL   string
	Schema         *domain.SchemaDefinition
	SchemaName     string
	OrderSensitive bool
}

// Options tune how statements are executed.
type Options struct {
	// Parallel runs the student and reference statements concurrently on the
	// same snapshot.
	Parallel bool
	// Timeout bounds the execution stage of one validation. Zero disables it.
	Timeout time.Duration
}

// GradingService sequences sanitize, check, execute and compare into a verdict.
// It holds no per-call state and is safe for concurrent use.
type GradingService struct {
	sanitizer *domain.Sanitizer
	executor  port.QueryExecutor
	auditor   port.ValidationAuditor
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation
	opts      Options
}

func NewGradingService(executor port.QueryExecutor, auditor port.ValidationAuditor, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation, opts Options) *GradingService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &GradingService{
		sanitizer: domain.NewSanitizer(),
		executor:  executor,
		auditor:   auditor,
		logger:    logger,
		tracer:    tracer,
		inst:      inst,
		opts:      opts,
	}
}

// Validate grades a submission. The returned error is reserved for caller
// faults (*domain.ConfigError), cancellation (ErrCancelled) and internal
// contract violations; every student-facing outcome is a verdict.
func (s *GradingService) Validate(ctx context.Context, sub Submission) (v *domain.Verdict, err error) {
	ctx, span := s.tracer.Start(ctx, "GradingService.Validate",
		trace.WithAttributes(
			attribute.String("grading.schema", sub.SchemaName),
			attribute.Bool("grading.order_sensitive", sub.OrderSensitive),
			attribute.String("db.statement", sub.StudentSQL),
		),
	)
	defer span.End()

	start := time.Now()
	id := uuid.NewString()
	fingerprint := ""

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "validation panicked",
				slog.String("grading.validation_id", id),
				slog.Any("panic", r),
			)
			v, err = newVerdict(domain.ErrorTypeRuntime, domain.RuntimeFailure{
				Message: "internal error while grading",
				Error:   fmt.Sprint(r),
			})
		}
		s.finish(ctx, span, id, sub, fingerprint, v, err, time.Since(start))
	}()

	catalog, err := domain.BuildCatalog(sub.Schema)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}

	stmt, err := s.sanitizer.Parse(sub.StudentSQL)
	if err != nil {
		return newVerdict(domain.ErrorTypeSyntax, domain.FindingFromSyntaxError(err))
	}
	fingerprint = stmt.Fingerprint

	if findings := domain.Check(domain.ExtractReferences(stmt), catalog, sub.SchemaName); len(findings) > 0 {
		return newVerdict(domain.ErrorTypeSemantic, findings...)
	}

	ref, err := s.sanitizer.Parse(sub.ReferenceSQL)
	if err != nil {
		return newVerdict(domain.ErrorTypeRuntime, domain.RuntimeFailure{
			Message:    "reference query is invalid",
			Source:     domain.SourceReference,
			Error:      err.Error(),
			Suggestion: "fix the reference answer for this question",
		})
	}

	studentRes, refRes, v, err := s.execute(ctx, sub.SchemaName, stmt, ref)
	if v != nil || err != nil {
		return v, err
	}

	outcome := domain.Compare(studentRes, refRes, sub.OrderSensitive)
	if outcome.Equivalent {
		return domain.Correct(), nil
	}
	return newVerdict(domain.ErrorTypeResultMismatch, outcome.Findings...)
}

// Check runs the syntax and semantic stages only. Nothing touches the
// database.
func (s *GradingService) Check(ctx context.Context, studentSQL string, def *domain.SchemaDefinition, schemaName string) (*domain.Verdict, error) {
	_, span := s.tracer.Start(ctx, "GradingService.Check",
		trace.WithAttributes(attribute.String("grading.schema", schemaName)),
	)
	defer span.End()

	catalog, err := domain.BuildCatalog(def)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}
	stmt, err := s.sanitizer.Parse(studentSQL)
	if err != nil {
		return newVerdict(domain.ErrorTypeSyntax, domain.FindingFromSyntaxError(err))
	}
	if findings := domain.Check(domain.ExtractReferences(stmt), catalog, schemaName); len(findings) > 0 {
		return newVerdict(domain.ErrorTypeSemantic, findings...)
	}
	return domain.Correct(), nil
}

func (s *GradingService) execute(ctx context.Context, schemaName string, student, reference *domain.Statement) (*domain.ExecutionResult, *domain.ExecutionResult, *domain.Verdict, error) {
	execCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	snap, err := s.executor.Open(execCtx, schemaName)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return nil, nil, nil, cerr
		}
		f := domain.RuntimeFailure{
			Message: fmt.Sprintf("cannot bind schema %q", schemaName),
			Error:   err.Error(),
		}
		if errors.Is(err, domain.ErrSchemaNotFound) {
			f.Suggestion = "check the schema name configured for this question"
		}
		v, err := newVerdict(domain.ErrorTypeRuntime, f)
		return nil, nil, v, err
	}
	defer func() {
		if err := snap.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "closing snapshot", slog.String("error", err.Error()))
		}
	}()

	var (
		studentRes, refRes *domain.ExecutionResult
		studentErr, refErr error
	)
	if s.opts.Parallel {
		g, gctx := errgroup.WithContext(execCtx)
		g.Go(func() error {
			studentRes, studentErr = s.query(gctx, snap, student.SQL)
			return studentErr
		})
		g.Go(func() error {
			refRes, refErr = s.query(gctx, snap, reference.SQL)
			return refErr
		})
		_ = g.Wait()
		// A student statement cut short by the reference failing first is
		// not the student's fault.
		if errors.Is(studentErr, context.Canceled) && refErr != nil && !errors.Is(refErr, context.Canceled) && ctx.Err() == nil {
			studentErr = nil
		}
	} else {
		studentRes, studentErr = s.query(execCtx, snap, student.SQL)
		if studentErr == nil {
			refRes, refErr = s.query(execCtx, snap, reference.SQL)
		}
	}

	switch {
	case studentErr != nil:
		v, err := s.classify(ctx, studentErr, domain.SourceStudent, student.SQL)
		return nil, nil, v, err
	case refErr != nil:
		v, err := s.classify(ctx, refErr, domain.SourceReference, reference.SQL)
		return nil, nil, v, err
	}

	if studentRes.Truncated || refRes.Truncated {
		s.logger.WarnContext(ctx, "result truncated at row cap",
			slog.Bool("grading.student_truncated", studentRes.Truncated),
			slog.Bool("grading.reference_truncated", refRes.Truncated),
		)
	}
	return studentRes, refRes, nil, nil
}

func (s *GradingService) query(ctx context.Context, snap port.Snapshot, sql string) (res *domain.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()

	start := time.Now()
	res, err = snap.Query(ctx, sql)
	s.inst.RecordQueryDuration(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		s.inst.IncrementQueryErrors(ctx)
		s.logger.DebugContext(ctx, "statement failed",
			slog.String("db.statement", sql),
			slog.String("error", err.Error()),
		)
	}
	return res, err
}

// classify turns an execution failure into a verdict attributed to source.
func (s *GradingService) classify(ctx context.Context, err error, source domain.Source, sql string) (*domain.Verdict, error) {
	if cerr := cancelled(ctx); cerr != nil {
		return nil, cerr
	}

	var stmtErr *domain.StatementError
	if errors.As(err, &stmtErr) {
		return newVerdict(domain.ErrorTypeExecution, domain.ExecutionFailure{
			Message:  fmt.Sprintf("%s query failed", source),
			Source:   source,
			SQL:      sql,
			Error:    stmtErr.Message,
			SQLState: stmtErr.Code,
			Detail:   stmtErr.Detail,
			Hint:     stmtErr.Hint,
		})
	}

	f := domain.RuntimeFailure{
		Message: fmt.Sprintf("%s query could not be executed", source),
		Source:  source,
		Error:   err.Error(),
	}
	if errors.Is(err, domain.ErrQueryTimeout) || errors.Is(err, context.DeadlineExceeded) {
		f.Message = fmt.Sprintf("%s query timed out", source)
		f.Suggestion = "check for missing join conditions or unbounded recursion"
	}
	return newVerdict(domain.ErrorTypeRuntime, f)
}

// cancelled reports caller cancellation. An expired caller deadline is a
// timeout, not a cancellation.
func cancelled(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return nil
}

func newVerdict(errType domain.ErrorType, findings ...domain.Finding) (*domain.Verdict, error) {
	v, err := domain.NewVerdict(errType, findings)
	if err != nil {
		return nil, fmt.Errorf("assembling verdict: %w", err)
	}
	return v, nil
}

func (s *GradingService) finish(ctx context.Context, span trace.Span, id string, sub Submission, fingerprint string, v *domain.Verdict, err error, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	entry := port.AuditEntry{
		ValidationID: id,
		Tool:         toolNameFromCtx(ctx),
		Schema:       sub.SchemaName,
		SQL:          sub.StudentSQL,
		Fingerprint:  fingerprint,
		DurationMS:   ms,
		Err:          err,
	}

	outcome := "error"
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WarnContext(ctx, "validation aborted",
			slog.String("grading.validation_id", id),
			slog.String("grading.schema", sub.SchemaName),
			slog.String("error", err.Error()),
		)
	case v.IsCorrect():
		outcome = "correct"
		entry.IsCorrect = true
		s.logger.InfoContext(ctx, "validation finished",
			slog.String("grading.validation_id", id),
			slog.String("grading.schema", sub.SchemaName),
			slog.Bool("grading.correct", true),
			slog.Int64("duration_ms", ms),
		)
	default:
		outcome = string(v.ErrorType())
		entry.ErrorType = outcome
		s.logger.InfoContext(ctx, "validation finished",
			slog.String("grading.validation_id", id),
			slog.String("grading.schema", sub.SchemaName),
			slog.Bool("grading.correct", false),
			slog.String("grading.error_type", outcome),
			slog.String("grading.summary", v.Summary()),
			slog.Int64("duration_ms", ms),
		)
	}

	span.SetAttributes(
		attribute.String("grading.validation_id", id),
		attribute.String("grading.outcome", outcome),
	)
	s.inst.RecordValidation(ctx, outcome, float64(ms))
	s.auditor.Record(ctx, entry)
}
