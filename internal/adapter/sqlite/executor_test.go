package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/guillermoBallester/sqlgrader/internal/adapter/sqlite"
	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopSQL = `
CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, total NUMERIC);
CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT);
INSERT INTO customers VALUES (1, 'ada'), (2, 'grace');
INSERT INTO orders VALUES (1, 1, 10), (2, 1, 20), (3, 2, NULL);
`

func newExecutor(t *testing.T, maxRows int) *sqlite.Executor {
	t.Helper()
	exec := sqlite.NewExecutor(maxRows, 5*time.Second)
	require.NoError(t, exec.Register(context.Background(), "shop", shopSQL))
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func TestExecutor_Query(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := newExecutor(t, 0)

	snap, err := exec.Open(ctx, "shop")
	require.NoError(t, err)
	defer func() { require.NoError(t, snap.Close(ctx)) }()

	res, err := snap.Query(ctx, "SELECT id, total FROM orders ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total"}, res.Columns)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, domain.Int(1), res.Rows[0][0])
	assert.True(t, res.Rows[0][1].Equal(domain.Int(10)))
	assert.Equal(t, domain.KindNull, res.Rows[2][1].Kind())
	assert.False(t, res.Truncated)
}

func TestExecutor_RowCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := newExecutor(t, 2)

	snap, err := exec.Open(ctx, "shop")
	require.NoError(t, err)
	defer func() { _ = snap.Close(ctx) }()

	res, err := snap.Query(ctx, "SELECT id FROM orders")
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
}

func TestExecutor_UnknownSchema(t *testing.T) {
	t.Parallel()
	exec := newExecutor(t, 0)

	_, err := exec.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSchemaNotFound)
}

func TestExecutor_StatementError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := newExecutor(t, 0)

	snap, err := exec.Open(ctx, "shop")
	require.NoError(t, err)
	defer func() { _ = snap.Close(ctx) }()

	_, err = snap.Query(ctx, "SELECT missing FROM orders")
	var stmtErr *domain.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Contains(t, stmtErr.Message, "missing")
	assert.NotEmpty(t, stmtErr.Code)

	// The snapshot stays usable after a failed statement.
	res, err := snap.Query(ctx, "SELECT count(*) AS n FROM orders")
	require.NoError(t, err)
	assert.Equal(t, domain.Int(3), res.Rows[0][0])
}

func TestExecutor_IsReadOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	exec := newExecutor(t, 0)

	snap, err := exec.Open(ctx, "shop")
	require.NoError(t, err)
	defer func() { _ = snap.Close(ctx) }()

	_, err = snap.Query(ctx, "DELETE FROM orders RETURNING id")
	require.Error(t, err)

	res, err := snap.Query(ctx, "SELECT count(*) FROM orders")
	require.NoError(t, err)
	assert.Equal(t, domain.Int(3), res.Rows[0][0])
}

func TestExecutor_RegisterRejectsBadSeed(t *testing.T) {
	t.Parallel()
	exec := sqlite.NewExecutor(0, 0)
	defer func() { _ = exec.Close() }()

	err := exec.Register(context.Background(), "broken", "CREATE TABLE (")
	require.Error(t, err)
	assert.Empty(t, exec.Schemas())

	assert.Error(t, exec.Register(context.Background(), "", "SELECT 1"))
}
