package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/core/port"
	"github.com/mattn/go-sqlite3" // SQLite driver
)

// Executor is an in-memory fixture backend. Every schema name maps to its own
// in-memory database seeded from init SQL; schema-qualified table names are
// not supported by this backend.
type Executor struct {
	mu           sync.RWMutex
	dbs          map[string]*sql.DB
	maxRows      int
	queryTimeout time.Duration
}

func NewExecutor(maxRows int, queryTimeout time.Duration) *Executor {
	return &Executor{
		dbs:          make(map[string]*sql.DB),
		maxRows:      maxRows,
		queryTimeout: queryTimeout,
	}
}

// Register creates the database for schemaName and runs initSQL in it.
// Once seeded the database only accepts reads.
func (e *Executor) Register(ctx context.Context, schemaName, initSQL string) error {
	if schemaName == "" {
		return errors.New("registering fixture: empty schema name")
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return fmt.Errorf("opening fixture %q: %w", schemaName, err)
	}
	// A second connection would be a different, empty in-memory database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if initSQL != "" {
		if _, err := db.ExecContext(ctx, initSQL); err != nil {
			_ = db.Close()
			return fmt.Errorf("seeding fixture %q: %w", schemaName, err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("locking fixture %q: %w", schemaName, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.dbs[schemaName]; ok {
		_ = old.Close()
	}
	e.dbs[schemaName] = db
	return nil
}

// Schemas lists the registered schema names.
func (e *Executor) Schemas() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.dbs))
	for name := range e.dbs {
		names = append(names, name)
	}
	return names
}

func (e *Executor) Open(ctx context.Context, schemaName string) (port.Snapshot, error) {
	e.mu.RLock()
	db, ok := e.dbs[schemaName]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schema %q: %w", schemaName, domain.ErrSchemaNotFound)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &snapshot{exec: e, tx: tx}, nil
}

func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for name, db := range e.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing fixture %q: %w", name, err))
		}
	}
	e.dbs = make(map[string]*sql.DB)
	return errors.Join(errs...)
}

// snapshot serializes queries: the fixture has a single connection.
type snapshot struct {
	mu   sync.Mutex
	exec *Executor
	tx   *sql.Tx
}

func (s *snapshot) Query(ctx context.Context, query string) (*domain.ExecutionResult, error) {
	if s.exec.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.exec.queryTimeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, statementError(ctx, err)
	}
	res, err := readResult(rows, s.exec.maxRows)
	if err != nil {
		return nil, statementError(ctx, err)
	}
	return res, nil
}

func (s *snapshot) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("releasing snapshot: %w", err)
	}
	return nil
}

func readResult(rows *sql.Rows, maxRows int) (*domain.ExecutionResult, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	res := &domain.ExecutionResult{Columns: cols}

	for rows.Next() {
		if maxRows > 0 && len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make([]domain.Value, len(raw))
		for i, v := range raw {
			row[i] = domain.ValueOf(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return res, nil
}

func statementError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrQueryTimeout, err)
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	if sqliteErr.Code == sqlite3.ErrInterrupt {
		return fmt.Errorf("%w: %w", domain.ErrQueryTimeout, err)
	}
	return &domain.StatementError{
		Code:    strconv.Itoa(int(sqliteErr.ExtendedCode)),
		Message: sqliteErr.Error(),
		Err:     err,
	}
}
