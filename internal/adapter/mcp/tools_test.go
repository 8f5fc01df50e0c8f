package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guillermoBallester/sqlgrader/internal/adapter/sqlite"
	"github.com/guillermoBallester/sqlgrader/internal/audit"
	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/core/service"
	"github.com/guillermoBallester/sqlgrader/internal/exercise"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exercisesYAML = `
schemas:
  - name: shop
    tables:
      - name: orders
        columns: [id integer, customer_id integer, total numeric]
      - name: customers
        columns: [id integer, name text]
    init_sql: |
      CREATE TABLE orders (id INTEGER, customer_id INTEGER, total NUMERIC);
      CREATE TABLE customers (id INTEGER, name TEXT);
      INSERT INTO customers VALUES (1, 'ada'), (2, 'grace');
      INSERT INTO orders VALUES (1, 1, 10), (2, 1, 20), (3, 2, 5);
questions:
  - id: big-orders
    schema: shop
    description: "Orders above 8, by id"
    answer_sql: SELECT id FROM orders WHERE total > 8 ORDER BY id
    order_sensitive: true
    tags: [filtering]
  - id: names
    schema: shop
    description: "Customer names"
    answer_sql: SELECT name FROM customers
    tags: [basics]
`

var shopDefinition = map[string]any{
	"tables": []any{
		map[string]any{"name": "orders", "columns": []any{
			map[string]any{"name": "id", "type": "integer"},
			map[string]any{"name": "customer_id", "type": "integer"},
			map[string]any{"name": "total", "type": "numeric"},
		}},
		map[string]any{"name": "customers", "columns": []any{
			map[string]any{"name": "id", "type": "integer"},
			map[string]any{"name": "name", "type": "text"},
		}},
	},
}

// --- helpers ---

var sessionCounter atomic.Int64

// callTool opens a fresh session per call so one server can serve many calls.
func callTool(t *testing.T, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	session := server.NewInProcessSession(fmt.Sprintf("test-%d", sessionCounter.Add(1)), nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	// Initialize session.
	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	// Call tool.
	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}

func toolText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return ""
	}
	return tc.Text
}

type verdictJSON struct {
	IsCorrect      bool             `json:"is_correct"`
	ErrorType      *string          `json:"error_type"`
	DetailedErrors []map[string]any `json:"detailed_errors"`
}

func decodeVerdict(t *testing.T, result *mcp.CallToolResult) verdictJSON {
	t.Helper()
	require.False(t, result.IsError, "unexpected tool error: %s", toolText(result))
	var v verdictJSON
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &v))
	return v
}

func setupServer(t *testing.T, withExercises bool) *server.MCPServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	set, err := exercise.Parse([]byte(exercisesYAML))
	require.NoError(t, err)

	exec := sqlite.NewExecutor(100, 5*time.Second)
	require.NoError(t, set.Seed(ctx, exec))
	t.Cleanup(func() { _ = exec.Close() })

	grader := service.NewGradingService(exec, audit.NoopAuditor{}, logger, nil, nil, service.Options{})
	if !withExercises {
		set = nil
	}
	return NewServer("0.1.0", grader, set, logger, nil, nil)
}

// --- tests ---

func TestValidateAnswer_Correct(t *testing.T) {
	s := setupServer(t, false)

	result := callTool(t, s, "validate_answer", map[string]any{
		"student_sql":       "SELECT o.id FROM orders o WHERE o.total > 8",
		"reference_sql":     "SELECT id FROM orders WHERE total >= 10",
		"schema_definition": shopDefinition,
		"schema_name":       "shop",
	})
	v := decodeVerdict(t, result)
	assert.True(t, v.IsCorrect)
	assert.Nil(t, v.ErrorType)
	assert.Empty(t, v.DetailedErrors)
}

func TestValidateAnswer_Incorrect(t *testing.T) {
	s := setupServer(t, false)

	tests := []struct {
		name    string
		student string
		ordered bool
		errType string
		kind    string
	}{
		{"misspelled table", "SELECT id FROM orerds", false, "semantic_error", "InvalidTable"},
		{"delete", "DELETE FROM orders", false, "syntax_error", "SecurityError"},
		{"broken sql", "SELEC id FROM orders", false, "syntax_error", "SyntaxError"},
		{"wrong rows", "SELECT id FROM orders", false, "result_mismatch", "ResultMismatch"},
		{"wrong order", "SELECT id FROM orders WHERE total > 8 ORDER BY id DESC", true, "result_mismatch", "ResultMismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, s, "validate_answer", map[string]any{
				"student_sql":       tt.student,
				"reference_sql":     "SELECT id FROM orders WHERE total > 8 ORDER BY id",
				"schema_definition": shopDefinition,
				"schema_name":       "shop",
				"order_sensitive":   tt.ordered,
			})
			v := decodeVerdict(t, result)
			assert.False(t, v.IsCorrect)
			require.NotNil(t, v.ErrorType)
			assert.Equal(t, tt.errType, *v.ErrorType)
			require.NotEmpty(t, v.DetailedErrors)
			assert.Equal(t, tt.kind, v.DetailedErrors[0]["kind"])
		})
	}
}

func TestValidateAnswer_SchemaDefinitionAsString(t *testing.T) {
	s := setupServer(t, false)

	def, err := json.Marshal(shopDefinition)
	require.NoError(t, err)

	result := callTool(t, s, "validate_answer", map[string]any{
		"student_sql":       "SELECT name FROM customers",
		"reference_sql":     "SELECT name FROM customers",
		"schema_definition": string(def),
		"schema_name":       "shop",
	})
	assert.True(t, decodeVerdict(t, result).IsCorrect)
}

func TestValidateAnswer_CallerErrors(t *testing.T) {
	s := setupServer(t, false)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "missing student sql",
			args: map[string]any{"reference_sql": "SELECT 1", "schema_definition": shopDefinition, "schema_name": "shop"},
			want: "student_sql is required",
		},
		{
			name: "missing reference sql",
			args: map[string]any{"student_sql": "SELECT 1", "schema_definition": shopDefinition, "schema_name": "shop"},
			want: "reference_sql is required",
		},
		{
			name: "missing schema name",
			args: map[string]any{"student_sql": "SELECT 1", "reference_sql": "SELECT 1", "schema_definition": shopDefinition},
			want: "schema_name is required",
		},
		{
			name: "definition without tables",
			args: map[string]any{"student_sql": "SELECT 1", "reference_sql": "SELECT 1", "schema_definition": map[string]any{}, "schema_name": "shop"},
			want: "tables",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, s, "validate_answer", tt.args)
			assert.True(t, result.IsError)
			assert.Contains(t, toolText(result), tt.want)
		})
	}
}

func TestCheckQuery(t *testing.T) {
	s := setupServer(t, false)

	result := callTool(t, s, "check_query", map[string]any{
		"student_sql":       "SELECT id FROM orders JOIN customers ON customer_id = customers.id",
		"schema_definition": shopDefinition,
	})
	v := decodeVerdict(t, result)
	assert.False(t, v.IsCorrect)
	require.NotNil(t, v.ErrorType)
	assert.Equal(t, "semantic_error", *v.ErrorType)
	assert.Equal(t, "AmbiguousColumn", v.DetailedErrors[0]["kind"])

	result = callTool(t, s, "check_query", map[string]any{
		"student_sql":       "SELECT orders.id FROM orders",
		"schema_definition": shopDefinition,
	})
	assert.True(t, decodeVerdict(t, result).IsCorrect)
}

func TestListExercises(t *testing.T) {
	s := setupServer(t, true)

	result := callTool(t, s, "list_exercises", nil)
	require.False(t, result.IsError)
	text := toolText(result)
	assert.NotContains(t, text, "answer_sql")
	assert.NotContains(t, text, "total > 8")

	var all []exercise.Question
	require.NoError(t, json.Unmarshal([]byte(text), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "big-orders", all[0].ID)
	assert.True(t, all[0].OrderSensitive)

	result = callTool(t, s, "list_exercises", map[string]any{"tag": "basics"})
	var basics []exercise.Question
	require.NoError(t, json.Unmarshal([]byte(toolText(result)), &basics))
	require.Len(t, basics, 1)
	assert.Equal(t, "names", basics[0].ID)
}

func TestGradeExercise(t *testing.T) {
	s := setupServer(t, true)

	result := callTool(t, s, "grade_exercise", map[string]any{
		"exercise_id": "big-orders",
		"student_sql": "SELECT id FROM orders WHERE total >= 10 ORDER BY id",
	})
	assert.True(t, decodeVerdict(t, result).IsCorrect)

	result = callTool(t, s, "grade_exercise", map[string]any{
		"exercise_id": "big-orders",
		"student_sql": "SELECT id FROM orders WHERE total >= 10 ORDER BY id DESC",
	})
	v := decodeVerdict(t, result)
	assert.False(t, v.IsCorrect)
	require.NotNil(t, v.ErrorType)
	assert.Equal(t, "result_mismatch", *v.ErrorType)
}

func TestGradeExercise_UnknownExercise(t *testing.T) {
	s := setupServer(t, true)

	result := callTool(t, s, "grade_exercise", map[string]any{
		"exercise_id": "nope",
		"student_sql": "SELECT 1",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(result), `question "nope"`)
}

func listToolNames(t *testing.T, s *server.MCPServer) []string {
	t.Helper()
	ctx := context.Background()
	session := server.NewInProcessSession(fmt.Sprintf("list-%d", sessionCounter.Add(1)), nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	reqBytes, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": "list-1", "method": "tools/list"})
	respBytes, _ := json.Marshal(s.HandleMessage(sessionCtx, reqBytes))

	var rpc struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	names := make([]string, len(rpc.Result.Tools))
	for i, tool := range rpc.Result.Tools {
		names[i] = tool.Name
	}
	return names
}

func TestExerciseToolsNeedAnExerciseSet(t *testing.T) {
	assert.ElementsMatch(t, []string{"validate_answer", "check_query"}, listToolNames(t, setupServer(t, false)))
	assert.ElementsMatch(t,
		[]string{"validate_answer", "check_query", "list_exercises", "grade_exercise"},
		listToolNames(t, setupServer(t, true)))
}

// --- sanitizeError tests ---

func TestSanitizeError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		err      error
		contains string
		hidden   string
	}{
		{"config error", &domain.ConfigError{Field: "tables", Reason: "missing"}, "tables", ""},
		{"not found", fmt.Errorf("question %q: %w", "q1", domain.ErrNotFound), "q1", ""},
		{"cancelled", fmt.Errorf("%w: %w", service.ErrCancelled, context.Canceled), "cancelled", ""},
		{"internal", fmt.Errorf("unexpected pg error: relation OID 12345"), "check server logs", "OID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := sanitizeError(logger, tt.err, "validate answer")
			assert.Contains(t, msg, tt.contains)
			if tt.hidden != "" {
				assert.NotContains(t, msg, tt.hidden)
			}
		})
	}
}
