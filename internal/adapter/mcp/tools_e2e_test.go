package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/guillermoBallester/sqlgrader/internal/adapter/postgres"
	"github.com/guillermoBallester/sqlgrader/internal/audit"
	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/core/service"
	"github.com/guillermoBallester/sqlgrader/internal/exercise"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const e2eSchema = `
	CREATE SCHEMA school;

	CREATE TABLE school.students (
		id         SERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		enrolled   DATE NOT NULL
	);

	CREATE TABLE school.grades (
		student_id INTEGER NOT NULL REFERENCES school.students(id),
		course     TEXT NOT NULL,
		score      NUMERIC(5,2)
	);

	INSERT INTO school.students (name, enrolled)
	SELECT 'Student ' || i, DATE '2024-09-01' + i
	FROM generate_series(1, 20) AS i;

	INSERT INTO school.grades (student_id, course, score)
	SELECT (i % 20) + 1,
		CASE i % 3 WHEN 0 THEN 'math' WHEN 1 THEN 'history' ELSE 'biology' END,
		CASE WHEN i % 7 = 0 THEN NULL ELSE (50 + i % 50)::numeric(5,2) END
	FROM generate_series(1, 120) AS i;
`

const e2eExercises = `
schemas:
  - name: school
    tables:
      - name: students
        columns: [id integer, name text, enrolled date]
      - name: grades
        columns: [student_id integer, course text, score numeric]
questions:
  - id: course-averages
    schema: school
    description: "Average score per course, ordered by course"
    answer_sql: SELECT course, avg(score) AS avg_score FROM grades GROUP BY course ORDER BY course
    order_sensitive: true
`

// setupE2E starts a Postgres testcontainer, applies the schema and returns a
// fully wired MCP server backed by real adapters, together with the schema
// definition read back from the database.
func setupE2E(t *testing.T) (*server.MCPServer, map[string]any) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := postgres.NewPool(ctx, connStr, postgres.PoolConfig{MaxConns: 6})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx, e2eSchema)
	require.NoError(t, err)

	def, err := postgres.NewSchemaReader(pool, nil).ReadSchema(ctx, "school")
	require.NoError(t, err)
	raw, err := json.Marshal(def)
	require.NoError(t, err)
	var defArg map[string]any
	require.NoError(t, json.Unmarshal(raw, &defArg))

	set, err := exercise.Parse([]byte(e2eExercises))
	require.NoError(t, err)

	// Real adapters and services.
	executor := postgres.NewExecutor(pool, 1000, 10*time.Second)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	grader := service.NewGradingService(executor, audit.NoopAuditor{}, logger, nil, nil,
		service.Options{Parallel: true, Timeout: 20 * time.Second})

	return NewServer("0.0.1", grader, set, logger, nil, nil), defArg
}

func TestE2E_MCPTools(t *testing.T) {
	s, def := setupE2E(t)

	validate := func(t *testing.T, student, reference string, ordered bool) verdictJSON {
		t.Helper()
		return decodeVerdict(t, callTool(t, s, "validate_answer", map[string]any{
			"student_sql":       student,
			"reference_sql":     reference,
			"schema_definition": def,
			"schema_name":       "school",
			"order_sensitive":   ordered,
		}))
	}

	t.Run("validate_answer/equivalent_queries", func(t *testing.T) {
		v := validate(t,
			"SELECT s.name FROM students s WHERE EXISTS (SELECT 1 FROM grades g WHERE g.student_id = s.id AND g.score > 95)",
			"SELECT DISTINCT st.name FROM students st JOIN grades gr ON gr.student_id = st.id WHERE gr.score > 95",
			false)
		assert.True(t, v.IsCorrect, "%+v", v.DetailedErrors)
	})

	t.Run("validate_answer/numeric_scale_is_ignored", func(t *testing.T) {
		v := validate(t,
			"SELECT count(*)::numeric(10,2) AS n FROM grades",
			"SELECT count(*) AS n FROM grades",
			false)
		assert.True(t, v.IsCorrect, "%+v", v.DetailedErrors)
	})

	t.Run("validate_answer/execution_error", func(t *testing.T) {
		v := validate(t,
			"SELECT score / 0 AS boom FROM grades",
			"SELECT score FROM grades",
			false)
		assert.False(t, v.IsCorrect)
		require.NotNil(t, v.ErrorType)
		assert.Equal(t, string(domain.ErrorTypeExecution), *v.ErrorType)
		assert.Equal(t, "ExecutionError", v.DetailedErrors[0]["kind"])
		assert.Equal(t, "student", v.DetailedErrors[0]["source"])
		assert.Equal(t, "22012", v.DetailedErrors[0]["sqlstate"])
	})

	t.Run("validate_answer/null_rows", func(t *testing.T) {
		v := validate(t,
			"SELECT student_id FROM grades WHERE score IS NOT NULL",
			"SELECT student_id FROM grades",
			false)
		assert.False(t, v.IsCorrect)
		require.NotNil(t, v.ErrorType)
		assert.Equal(t, string(domain.ErrorTypeResultMismatch), *v.ErrorType)
	})

	t.Run("validate_answer/foreign_schema", func(t *testing.T) {
		v := validate(t, "SELECT id FROM public.students", "SELECT id FROM students", false)
		assert.False(t, v.IsCorrect)
		require.NotNil(t, v.ErrorType)
		assert.Equal(t, string(domain.ErrorTypeSemantic), *v.ErrorType)
		assert.Equal(t, "schema_mismatch", v.DetailedErrors[0]["cause"])
	})

	t.Run("grade_exercise", func(t *testing.T) {
		v := decodeVerdict(t, callTool(t, s, "grade_exercise", map[string]any{
			"exercise_id": "course-averages",
			"student_sql": "SELECT g.course, AVG(g.score) AS avg_score FROM grades AS g GROUP BY 1 ORDER BY 1",
		}))
		assert.True(t, v.IsCorrect, "%+v", v.DetailedErrors)

		v = decodeVerdict(t, callTool(t, s, "grade_exercise", map[string]any{
			"exercise_id": "course-averages",
			"student_sql": "SELECT course, avg(score) AS avg_score FROM grades GROUP BY course ORDER BY course DESC",
		}))
		assert.False(t, v.IsCorrect)
	})
}
