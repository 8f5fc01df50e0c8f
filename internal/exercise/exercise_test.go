package exercise

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopYAML = `
schemas:
  - name: shop
    description: "A small web shop"
    tables:
      - name: orders
        columns:
          - id integer
          - name: total
            type: numeric
      - name: customers
        columns:
          - name: id
            type: integer
            primary: true
          - name text
    init_sql: |
      CREATE TABLE orders (id INTEGER, total NUMERIC);
questions:
  - id: q1
    schema: shop
    description: "List every order"
    answer_sql: SELECT id, total FROM orders ORDER BY id
    order_sensitive: true
    tags: [basics]
  - id: q2
    schema: shop
    description: "Customer names"
    answer_sql: SELECT name FROM customers
    tags: [basics, projection]
`

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exercises.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()
	set, err := LoadFromFile(writeTempFile(t, shopYAML))
	require.NoError(t, err)

	require.Len(t, set.Schemas, 1)
	require.Len(t, set.Questions, 2)

	shop, err := set.Schema("shop")
	require.NoError(t, err)
	def := shop.Definition()
	require.Len(t, def.Tables, 2)
	assert.Equal(t, domain.Column{Name: "id", Type: "integer"}, def.Tables[0].Columns[0])
	assert.Equal(t, domain.Column{Name: "total", Type: "numeric"}, def.Tables[0].Columns[1])
	assert.True(t, def.Tables[1].Columns[0].Primary)
	assert.Equal(t, "text", def.Tables[1].Columns[1].Type)
	assert.Contains(t, shop.InitSQL, "CREATE TABLE orders")

	q, err := set.Question("q1")
	require.NoError(t, err)
	assert.True(t, q.OrderSensitive)
	assert.Equal(t, "shop", q.Schema)
}

func TestLoadFromFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading exercise file")
}

func TestSet_Lookups(t *testing.T) {
	t.Parallel()
	set, err := Parse([]byte(shopYAML))
	require.NoError(t, err)

	_, err = set.Question("q9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = set.Schema("warehouse")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, set.List(""), 2)
	assert.Len(t, set.List("basics"), 2)
	projection := set.List("projection")
	require.Len(t, projection, 1)
	assert.Equal(t, "q2", projection[0].ID)
	assert.Empty(t, set.List("joins"))
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "malformed yaml",
			yaml: "schemas: [",
			want: "parsing exercise YAML",
		},
		{
			name: "unnamed schema",
			yaml: "schemas:\n  - tables: []\n",
			want: "schemas[0].name is empty",
		},
		{
			name: "duplicate schema",
			yaml: "schemas:\n  - name: a\n    tables: []\n  - name: a\n    tables: []\n",
			want: "duplicate schema",
		},
		{
			name: "duplicate table",
			yaml: "schemas:\n  - name: a\n    tables:\n      - name: t\n      - name: t\n",
			want: "duplicate table name",
		},
		{
			name: "unknown schema",
			yaml: "schemas:\n  - name: a\n    tables: []\nquestions:\n  - id: q\n    schema: b\n    answer_sql: SELECT 1\n",
			want: "unknown schema",
		},
		{
			name: "duplicate question",
			yaml: "schemas:\n  - name: a\n    tables: []\nquestions:\n  - id: q\n    schema: a\n    answer_sql: SELECT 1\n  - id: q\n    schema: a\n    answer_sql: SELECT 1\n",
			want: "duplicate id",
		},
		{
			name: "answer is not a select",
			yaml: "schemas:\n  - name: a\n    tables: []\nquestions:\n  - id: q\n    schema: a\n    answer_sql: DELETE FROM t\n",
			want: "answer_sql",
		},
		{
			name: "answer references unknown table",
			yaml: "schemas:\n  - name: a\n    tables: []\nquestions:\n  - id: q\n    schema: a\n    answer_sql: SELECT id FROM missing\n",
			want: `"missing"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type recordingSeeder struct {
	seeded map[string]string
}

func (r *recordingSeeder) Register(_ context.Context, name, initSQL string) error {
	r.seeded[name] = initSQL
	return nil
}

func TestSet_Seed(t *testing.T) {
	t.Parallel()
	set, err := Parse([]byte(shopYAML))
	require.NoError(t, err)

	seeder := &recordingSeeder{seeded: map[string]string{}}
	require.NoError(t, set.Seed(context.Background(), seeder))
	assert.Contains(t, seeder.seeded["shop"], "CREATE TABLE orders")
}

func TestFromDefinition_RoundTrip(t *testing.T) {
	t.Parallel()
	def := &domain.SchemaDefinition{Tables: []domain.Table{
		{Name: "orders", Columns: []domain.Column{{Name: "id", Type: "integer", Primary: true}}},
	}}

	sc := FromDefinition("shop", def)
	assert.Equal(t, "shop", sc.Name)
	assert.Equal(t, def, sc.Definition())
}
