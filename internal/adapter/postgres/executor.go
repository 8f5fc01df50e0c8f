package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sqlStateQueryCanceled = "57014"

// Executor runs graded statements against PostgreSQL. Every Open exports a
// snapshot from an anchor transaction; each Query imports it on its own
// pooled connection, so concurrent statements see the same data.
type Executor struct {
	pool         *pgxpool.Pool
	maxRows      int
	queryTimeout time.Duration
}

func NewExecutor(pool *pgxpool.Pool, maxRows int, queryTimeout time.Duration) *Executor {
	return &Executor{
		pool:         pool,
		maxRows:      maxRows,
		queryTimeout: queryTimeout,
	}
}

var readOnlySnapshot = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

func (e *Executor) Open(ctx context.Context, schemaName string) (port.Snapshot, error) {
	if schemaName == "" {
		return nil, fmt.Errorf("empty schema name: %w", domain.ErrSchemaNotFound)
	}

	tx, err := e.pool.BeginTx(ctx, readOnlySnapshot)
	if err != nil {
		return nil, fmt.Errorf("beginning anchor transaction: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, queryNamespaceExists, schemaName).Scan(&exists); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("checking schema %q: %w", schemaName, err)
	}
	if !exists {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("schema %q: %w", schemaName, domain.ErrSchemaNotFound)
	}

	var snapshotID string
	if err := tx.QueryRow(ctx, "SELECT pg_export_snapshot()").Scan(&snapshotID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("exporting snapshot: %w", err)
	}

	return &snapshot{
		exec:       e,
		anchor:     tx,
		id:         snapshotID,
		searchPath: pgx.Identifier{schemaName}.Sanitize(),
	}, nil
}

type snapshot struct {
	exec       *Executor
	anchor     pgx.Tx
	id         string
	searchPath string
}

func (s *snapshot) Query(ctx context.Context, sql string) (*domain.ExecutionResult, error) {
	timeout := s.exec.queryTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := s.exec.pool.BeginTx(ctx, readOnlySnapshot)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	// SET TRANSACTION SNAPSHOT must be the first statement of the transaction.
	if _, err := tx.Exec(ctx, "SET TRANSACTION SNAPSHOT "+quoteLiteral(s.id)); err != nil {
		return nil, fmt.Errorf("importing snapshot: %w", err)
	}
	if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+s.searchPath); err != nil {
		return nil, fmt.Errorf("setting search_path: %w", err)
	}
	// Enforce statement timeout at the database level so PostgreSQL cancels
	// the query server-side even if the Go context is cancelled first.
	if timeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%d'", timeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("setting statement timeout: %w", err)
		}
	}

	// Describe without caching a named statement per submission.
	rows, err := tx.Query(ctx, sql, pgx.QueryExecModeDescribeExec)
	if err != nil {
		return nil, statementError(err)
	}
	res, err := readResult(rows, s.exec.maxRows)
	if err != nil {
		return nil, statementError(err)
	}
	return res, nil
}

func (s *snapshot) Close(ctx context.Context) error {
	if err := s.anchor.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("releasing snapshot: %w", err)
	}
	return nil
}

// statementError separates what the SQL text caused from everything else.
func statementError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	if pgErr.Code == sqlStateQueryCanceled {
		return fmt.Errorf("%w: %s", domain.ErrQueryTimeout, pgErr.Message)
	}
	return &domain.StatementError{
		Code:    pgErr.Code,
		Message: pgErr.Message,
		Detail:  pgErr.Detail,
		Hint:    pgErr.Hint,
		Err:     err,
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
