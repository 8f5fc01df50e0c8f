package port

import (
	"context"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
)

// SchemaReader introspects a live namespace into a schema definition.
type SchemaReader interface {
	ReadSchema(ctx context.Context, schemaName string) (*domain.SchemaDefinition, error)
}
