package postgres

import (
	"context"
	"fmt"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaReader introspects live schemas into schema definitions, so exercise
// authors can start from the database instead of writing tables by hand.
type SchemaReader struct {
	pool    *pgxpool.Pool
	schemas []string // empty means all non-system schemas
}

func NewSchemaReader(pool *pgxpool.Pool, schemas []string) *SchemaReader {
	return &SchemaReader{pool: pool, schemas: schemas}
}

// ListSchemas returns the names of the visible schemas.
func (r *SchemaReader) ListSchemas(ctx context.Context) ([]string, error) {
	filter, args := schemaFilter(r.schemas, "s.schema_name", 1)
	query := fmt.Sprintf(queryListSchemas, filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning schema row: %w", err)
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

// ReadSchema describes every table and view of schemaName. Table names are
// unqualified: the schema name travels separately with each question.
func (r *SchemaReader) ReadSchema(ctx context.Context, schemaName string) (*domain.SchemaDefinition, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, queryNamespaceExists, schemaName).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking schema %q: %w", schemaName, err)
	}
	if !exists {
		return nil, fmt.Errorf("schema %q: %w", schemaName, domain.ErrSchemaNotFound)
	}

	names, err := r.listTables(ctx, schemaName)
	if err != nil {
		return nil, err
	}

	def := &domain.SchemaDefinition{Tables: make([]domain.Table, 0, len(names))}
	for _, name := range names {
		cols, err := r.fetchColumns(ctx, schemaName, name)
		if err != nil {
			return nil, err
		}
		if err := r.markPrimaryKeys(ctx, schemaName, name, cols); err != nil {
			return nil, err
		}
		def.Tables = append(def.Tables, domain.Table{Name: name, Columns: cols})
	}
	return def, nil
}

func (r *SchemaReader) listTables(ctx context.Context, schemaName string) ([]string, error) {
	rows, err := r.pool.Query(ctx, queryListTables, schemaName)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *SchemaReader) fetchColumns(ctx context.Context, schema, tableName string) ([]domain.Column, error) {
	rows, err := r.pool.Query(ctx, queryColumns, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var col domain.Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (r *SchemaReader) markPrimaryKeys(ctx context.Context, schema, tableName string, cols []domain.Column) error {
	rows, err := r.pool.Query(ctx, queryPrimaryKeys, schema, tableName)
	if err != nil {
		return fmt.Errorf("querying primary keys: %w", err)
	}
	defer rows.Close()

	pkCols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scanning pk: %w", err)
		}
		pkCols[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range cols {
		if pkCols[cols[i].Name] {
			cols[i].Primary = true
		}
	}
	return nil
}
