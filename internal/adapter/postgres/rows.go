package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// readResult drains rows into an ExecutionResult, stopping after maxRows
// (0 means unlimited).
func readResult(rows pgx.Rows, maxRows int) (*domain.ExecutionResult, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := &domain.ExecutionResult{Columns: make([]string, len(fields))}
	for i, fd := range fields {
		res.Columns[i] = fd.Name
	}

	for rows.Next() {
		if maxRows > 0 && len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make([]domain.Value, len(vals))
		for i, v := range vals {
			row[i] = toValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return res, nil
}

// toValue maps the Go types pgx decodes into result values.
func toValue(v any) domain.Value {
	switch t := v.(type) {
	case [16]byte:
		return domain.Text(uuid.UUID(t).String())
	case map[string]any, []any:
		// json/jsonb and arrays compare by their canonical JSON text.
		b, err := json.Marshal(t)
		if err != nil {
			return domain.Text(fmt.Sprint(t))
		}
		return domain.Text(string(b))
	case decimal.Decimal, decimal.NullDecimal:
		return domain.ValueOf(t)
	case pgtype.Numeric:
		// Only reached on connections without the decimal codec.
		if !t.Valid {
			return domain.Null()
		}
		f, err := t.Float64Value()
		if err == nil && (t.NaN || t.InfinityModifier != pgtype.Finite) {
			return domain.Float(f.Float64)
		}
		d, err := decimal.NewFromString(numericText(t))
		if err != nil {
			return domain.Text(numericText(t))
		}
		return domain.Decimal(d)
	case driver.Valuer:
		// Intervals, ranges and other pgtype structs compare by text.
		inner, err := t.Value()
		if err != nil {
			return domain.Text(fmt.Sprint(t))
		}
		return domain.ValueOf(inner)
	default:
		return domain.ValueOf(v)
	}
}

func numericText(n pgtype.Numeric) string {
	v, err := n.Value()
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
