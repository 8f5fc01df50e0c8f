package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extract(t *testing.T, sql string) *ParsedReference {
	t.Helper()
	stmt, err := NewSanitizer().Parse(sql)
	require.NoError(t, err)
	return ExtractReferences(stmt)
}

func tableIDs(refs *ParsedReference) []string {
	var out []string
	for _, tr := range refs.Tables {
		out = append(out, tr.Identifier())
	}
	return out
}

func columnIDs(refs *ParsedReference) []string {
	var out []string
	for _, c := range refs.Columns {
		out = append(out, c.Identifier())
	}
	return out
}

func TestExtractReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sql     string
		tables  []string
		columns []string
	}{
		{"literal only", "SELECT 1", nil, nil},
		{"bare columns", "SELECT id, total FROM orders", []string{"orders"}, []string{"id", "total"}},
		{"qualified column", "SELECT o.id FROM orders o", []string{"orders"}, []string{"o.id"}},
		{"schema qualified", "SELECT sales.orders.id FROM sales.orders", []string{"sales.orders"}, []string{"sales.orders.id"}},
		{"star is skipped", "SELECT * FROM orders", []string{"orders"}, nil},
		{"qualified star keeps its qualifier", "SELECT o.* FROM orders o", []string{"orders"}, []string{"o.*"}},
		{
			"join",
			"SELECT c.name, o.total FROM orders o JOIN customers c ON c.id = o.customer_id",
			[]string{"orders", "customers"},
			[]string{"c.name", "o.total", "c.id", "o.customer_id"},
		},
		{
			"subquery in where",
			"SELECT name FROM customers WHERE id IN (SELECT customer_id FROM orders)",
			[]string{"customers", "orders"},
			[]string{"name", "id", "customer_id"},
		},
		{
			"derived table",
			"SELECT t.n FROM (SELECT count(*) AS n FROM orders) t",
			[]string{"orders"},
			[]string{"t.n"},
		},
		{
			"cte is not a table",
			"WITH big AS (SELECT id FROM orders WHERE total > 100) SELECT id FROM big",
			[]string{"orders"},
			[]string{"id", "total", "id"},
		},
		{
			"union arms",
			"SELECT id FROM orders UNION SELECT id FROM customers",
			[]string{"orders", "customers"},
			[]string{"id", "id"},
		},
		{
			"output alias in order by",
			"SELECT total AS amount FROM orders ORDER BY amount",
			[]string{"orders"},
			[]string{"total"},
		},
		{
			"group by and having",
			"SELECT customer_id, sum(total) FROM orders GROUP BY customer_id HAVING sum(total) > 10",
			[]string{"orders"},
			[]string{"customer_id", "total"},
		},
		{
			"case expression",
			"SELECT CASE WHEN total > 10 THEN 'big' ELSE status END FROM orders",
			[]string{"orders"},
			[]string{"total", "status"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			refs := extract(t, tt.sql)
			assert.Equal(t, tt.tables, tableIDs(refs))
			assert.ElementsMatch(t, tt.columns, columnIDs(refs))
		})
	}
}

func TestExtractReferences_ScopeOfBareColumns(t *testing.T) {
	t.Parallel()
	refs := extract(t, "SELECT name FROM customers c WHERE EXISTS (SELECT 1 FROM orders o WHERE o.customer_id = c.id AND total > 0)")

	var total *ColumnRef
	for i := range refs.Columns {
		if refs.Columns[i].Name == "total" {
			total = &refs.Columns[i]
		}
	}
	require.NotNil(t, total)
	require.Len(t, total.Scope, 2, "correlated subquery sees its own FROM and the outer one")
	assert.Equal(t, "o", total.Scope[0].Sources[0].Name)
	assert.Equal(t, "c", total.Scope[1].Sources[0].Name)
	assert.Equal(t, "customers", total.Scope[1].Sources[0].Table.Name)
}

func TestExtractReferences_DerivedColumns(t *testing.T) {
	t.Parallel()
	refs := extract(t, "SELECT t.n FROM (SELECT count(*) AS n, customer_id FROM orders GROUP BY customer_id) t")

	var n ColumnRef
	for _, c := range refs.Columns {
		if c.Table == "t" {
			n = c
		}
	}
	require.NotEmpty(t, n.Scope)
	src := n.Scope[0].Sources[0]
	assert.Nil(t, src.Table)
	assert.False(t, src.Open)
	assert.Equal(t, []string{"n", "customer_id"}, src.Columns)
}

func TestOutputNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		want []string // nil: unknowable, the source stays open
	}{
		{"SELECT id, o.total FROM orders o", []string{"id", "total"}},
		{"SELECT count(*), max(total) FROM orders", []string{"count", "max"}},
		{"SELECT coalesce(total, 0) FROM orders", []string{"coalesce"}},
		{"SELECT CASE WHEN total > 1 THEN 1 END FROM orders", []string{"case"}},
		{"SELECT CASE WHEN total > 1 THEN 1 ELSE total END FROM orders", []string{"total"}},
		{"SELECT (SELECT max(total) FROM orders)", []string{"max"}},
		{"SELECT EXISTS (SELECT 1 FROM orders)", []string{"exists"}},
		{"SELECT ARRAY(SELECT id FROM orders)", []string{"array"}},
		{"SELECT ARRAY[1, 2], ROW(1, 2)", []string{"array", "row"}},
		{"SELECT greatest(1, 2), least(1, 2)", []string{"greatest", "least"}},
		{"SELECT nullif(total, 0) FROM orders", []string{"nullif"}},
		{"SELECT current_date, current_timestamp(0)", []string{"current_date", "current_timestamp"}},
		{"SELECT total::text FROM orders", []string{"total"}},
		{"SELECT 1::int", []string{"int4"}},
		{"SELECT x AS renamed FROM t", []string{"renamed"}},
		{"VALUES (1, 2)", []string{"column1", "column2"}},
		{"SELECT 1 + 1", nil},
		{"SELECT * FROM orders", nil},
		{"SELECT o.* FROM orders o", nil},
	}

	s := NewSanitizer()
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			t.Parallel()
			stmt, err := s.Parse(tt.sql)
			require.NoError(t, err)
			names, ok := outputNames(stmt.Select())
			assert.Equal(t, tt.want != nil, ok)
			if tt.want != nil {
				assert.Equal(t, tt.want, names)
			}
		})
	}
}

func TestExtractReferences_UsingAndNatural(t *testing.T) {
	t.Parallel()

	refs := extract(t, "SELECT id FROM orders JOIN refunds USING (id)")
	require.Len(t, refs.Columns, 1)
	assert.Equal(t, []string{"id"}, refs.Columns[0].Scope[0].Merged)

	refs = extract(t, "SELECT id FROM orders NATURAL JOIN refunds")
	require.Len(t, refs.Columns, 1)
	assert.True(t, refs.Columns[0].Scope[0].Natural)
}

func TestExtractReferences_NilStatement(t *testing.T) {
	t.Parallel()
	refs := ExtractReferences(nil)
	assert.Empty(t, refs.Tables)
	assert.Empty(t, refs.Columns)
}
