package port

import (
	"context"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
)

// QueryExecutor binds read-only sessions to a schema namespace.
type QueryExecutor interface {
	// Open binds a snapshot to schemaName. Both statements of one grading
	// call run through the same Snapshot, so they see identical data.
	Open(ctx context.Context, schemaName string) (Snapshot, error)
}

// Snapshot is a consistent, read-only view of one schema. Query is safe for
// concurrent use.
type Snapshot interface {
	// Query runs one statement. Errors the SQL text is responsible for are
	// *domain.StatementError; statement timeouts wrap domain.ErrQueryTimeout.
	Query(ctx context.Context, sql string) (*domain.ExecutionResult, error)
	Close(ctx context.Context) error
}
