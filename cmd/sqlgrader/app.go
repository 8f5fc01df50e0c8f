package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/guillermoBallester/sqlgrader/internal/adapter/postgres"
	"github.com/guillermoBallester/sqlgrader/internal/adapter/sqlite"
	"github.com/guillermoBallester/sqlgrader/internal/audit"
	"github.com/guillermoBallester/sqlgrader/internal/config"
	"github.com/guillermoBallester/sqlgrader/internal/core/port"
	"github.com/guillermoBallester/sqlgrader/internal/core/service"
	"github.com/guillermoBallester/sqlgrader/internal/exercise"
	"github.com/guillermoBallester/sqlgrader/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
)

// app is the wired object graph shared by the serve and grade commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation
	executor  port.QueryExecutor
	grader    *service.GradingService
	exercises *exercise.Set
	pool      *pgxpool.Pool // nil for the sqlite backend

	closers []func(context.Context) error
}

func newLogger(level slog.Level) *slog.Logger {
	// Logs go to stderr; stdout is reserved for the MCP stdio transport.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	a.tracer = telemetry.NoopTracer()
	a.inst = telemetry.NoopInstruments()
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, telemetry.Options{
			ServiceName:  "sqlgrader",
			Version:      version,
			Backend:      cfg.Backend,
			Parallel:     cfg.Parallel,
			MaxRows:      cfg.MaxRows,
			QueryTimeout: cfg.QueryTimeout,
		})
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		a.closers = append(a.closers, provider.Shutdown)
		a.tracer = telemetry.Tracer()
		a.inst = telemetry.NewInstruments()
		logger.Info("telemetry enabled")
	}

	var auditor port.ValidationAuditor = audit.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		auditor = fa
		a.closers = append(a.closers, func(context.Context) error { return fa.Close() })
		logger.Info("audit log enabled", slog.String("file", cfg.AuditLog))
	}

	if cfg.ExercisesFile != "" {
		set, err := exercise.LoadFromFile(cfg.ExercisesFile)
		if err != nil {
			return fmt.Errorf("loading exercises: %w", err)
		}
		a.exercises = set
		logger.Info("exercises loaded",
			slog.String("file", cfg.ExercisesFile),
			slog.Int("questions", len(a.exercises.Questions)),
		)
	}

	switch cfg.Backend {
	case config.BackendSQLite:
		exec := sqlite.NewExecutor(cfg.MaxRows, cfg.QueryTimeout)
		a.closers = append(a.closers, func(context.Context) error { return exec.Close() })
		if a.exercises == nil {
			return errors.New("the sqlite backend needs an exercise set to seed its fixtures")
		}
		if err := a.exercises.Seed(ctx, exec); err != nil {
			return err
		}
		a.executor = exec
		logger.Info("fixtures seeded", slog.String("db.system", "sqlite"), slog.Int("schemas", len(a.exercises.Schemas)))
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxConns:        cfg.PoolMaxConns,
			MinConns:        cfg.PoolMinConns,
			MaxConnLifetime: cfg.PoolMaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		a.executor = postgres.NewExecutor(pool, cfg.MaxRows, cfg.QueryTimeout)
		logger.Info("database pool connected",
			slog.String("db.system", "postgresql"),
			slog.String("database_url", redactDSN(cfg.DatabaseURL)),
		)
	}

	a.grader = service.NewGradingService(a.executor, auditor, logger, a.tracer, a.inst, service.Options{
		Parallel: cfg.Parallel,
		Timeout:  cfg.QueryTimeout,
	})
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// redactDSN masks the password of a connection URL for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
