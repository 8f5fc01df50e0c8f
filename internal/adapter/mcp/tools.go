package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/core/service"
	"github.com/guillermoBallester/sqlgrader/internal/exercise"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "sqlgrader"

// Tool descriptions
const (
	descValidateAnswer = "Grade a student's SQL answer against a reference answer. " +
		"The student query is parsed, checked against the schema definition, executed together with the " +
		"reference on the same database snapshot, and the two results are compared. " +
		"Returns {is_correct, error_type, detailed_errors}. error_type is one of syntax_error, " +
		"semantic_error, execution_error, result_mismatch or runtime_error."

	descCheckQuery = "Check a SQL query against a schema definition without executing it. " +
		"Reports syntax errors, non-SELECT statements, unknown tables, unknown or ambiguous columns."

	descListExercises = "List the exercises this server can grade, optionally filtered by tag. " +
		"Reference answers are not included."

	descGradeExercise = "Grade a student's SQL answer for a stored exercise. " +
		"The reference answer, schema and ordering rule come from the exercise set."

	descStudentSQL       = "The student's SQL answer (a single SELECT statement)"
	descReferenceSQL     = "The reference SQL answer (a single SELECT statement)"
	descSchemaDefinition = `Schema definition: {"tables": [{"name": "orders", "columns": [{"name": "id", "type": "integer"}]}]}`
	descSchemaName       = "Database schema (namespace) the question runs against"
	descOrderSensitive   = "Whether row order matters when comparing results. Defaults to false."
)

func RegisterTools(s *server.MCPServer, grader *service.GradingService, exercises *exercise.Set, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("validate_answer",
			mcp.WithDescription(descValidateAnswer),
			mcp.WithString("student_sql", mcp.Required(), mcp.Description(descStudentSQL)),
			mcp.WithString("reference_sql", mcp.Required(), mcp.Description(descReferenceSQL)),
			mcp.WithObject("schema_definition", mcp.Required(), mcp.Description(descSchemaDefinition)),
			mcp.WithString("schema_name", mcp.Required(), mcp.Description(descSchemaName)),
			mcp.WithBoolean("order_sensitive", mcp.Description(descOrderSensitive)),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		),
		validateAnswerHandler(grader, logger),
	)

	s.AddTool(
		mcp.NewTool("check_query",
			mcp.WithDescription(descCheckQuery),
			mcp.WithString("student_sql", mcp.Required(), mcp.Description(descStudentSQL)),
			mcp.WithObject("schema_definition", mcp.Required(), mcp.Description(descSchemaDefinition)),
			mcp.WithString("schema_name", mcp.Description(descSchemaName)),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		),
		checkQueryHandler(grader, logger),
	)

	if exercises == nil {
		return
	}

	s.AddTool(
		mcp.NewTool("list_exercises",
			mcp.WithDescription(descListExercises),
			mcp.WithString("tag", mcp.Description("Only list exercises carrying this tag")),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		listExercisesHandler(exercises),
	)

	s.AddTool(
		mcp.NewTool("grade_exercise",
			mcp.WithDescription(descGradeExercise),
			mcp.WithString("exercise_id", mcp.Required(), mcp.Description("Exercise id from list_exercises")),
			mcp.WithString("student_sql", mcp.Required(), mcp.Description(descStudentSQL)),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithDestructiveHintAnnotation(false),
		),
		gradeExerciseHandler(grader, exercises, logger),
	)
}

func validateAnswerHandler(grader *service.GradingService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		studentSQL, ok := args["student_sql"].(string)
		if !ok {
			return mcp.NewToolResultError("student_sql is required"), nil
		}
		referenceSQL, ok := args["reference_sql"].(string)
		if !ok || referenceSQL == "" {
			return mcp.NewToolResultError("reference_sql is required"), nil
		}
		schemaName, ok := args["schema_name"].(string)
		if !ok || schemaName == "" {
			return mcp.NewToolResultError("schema_name is required"), nil
		}
		def, err := schemaDefinition(args["schema_definition"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		orderSensitive, _ := args["order_sensitive"].(bool)

		ctx = service.WithToolName(ctx, "validate_answer")
		verdict, err := grader.Validate(ctx, service.Submission{
			StudentSQL:     studentSQL,
			ReferenceSQL:   referenceSQL,
			Schema:         def,
			SchemaName:     schemaName,
			OrderSensitive: orderSensitive,
		})
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "validate answer")), nil
		}
		return verdictResult(verdict)
	}
}

func checkQueryHandler(grader *service.GradingService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		studentSQL, ok := args["student_sql"].(string)
		if !ok {
			return mcp.NewToolResultError("student_sql is required"), nil
		}
		def, err := schemaDefinition(args["schema_definition"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		schemaName, _ := args["schema_name"].(string)

		verdict, err := grader.Check(ctx, studentSQL, def, schemaName)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "check query")), nil
		}
		return verdictResult(verdict)
	}
}

func listExercisesHandler(exercises *exercise.Set) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tag, _ := request.GetArguments()["tag"].(string)

		data, err := json.Marshal(exercises.List(tag))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func gradeExerciseHandler(grader *service.GradingService, exercises *exercise.Set, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()

		id, ok := args["exercise_id"].(string)
		if !ok || id == "" {
			return mcp.NewToolResultError("exercise_id is required"), nil
		}
		studentSQL, ok := args["student_sql"].(string)
		if !ok {
			return mcp.NewToolResultError("student_sql is required"), nil
		}

		q, err := exercises.Question(id)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "grade exercise")), nil
		}
		sc, err := exercises.Schema(q.Schema)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "grade exercise")), nil
		}

		ctx = service.WithToolName(ctx, "grade_exercise")
		verdict, err := grader.Validate(ctx, service.Submission{
			StudentSQL:     studentSQL,
			ReferenceSQL:   q.AnswerSQL,
			Schema:         sc.Definition(),
			SchemaName:     sc.Name,
			OrderSensitive: q.OrderSensitive,
		})
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "grade exercise")), nil
		}
		return verdictResult(verdict)
	}
}

// schemaDefinition accepts the definition as a JSON object or as a string
// holding one.
func schemaDefinition(arg any) (*domain.SchemaDefinition, error) {
	var data []byte
	switch v := arg.(type) {
	case nil:
		return nil, errors.New("schema_definition is required")
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("schema_definition: %w", err)
		}
		data = b
	}
	return domain.DecodeSchemaDefinition(data)
}

func verdictResult(v *domain.Verdict) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// sanitizeError maps service errors to messages safe to show a client.
// Caller mistakes pass through; everything else is logged and replaced.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	var cfgErr *domain.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return cfgErr.Error()
	case errors.Is(err, domain.ErrNotFound):
		return err.Error()
	case errors.Is(err, service.ErrCancelled):
		return "request cancelled"
	default:
		logger.Error("tool failed", slog.String("operation", op), slog.String("error", err.Error()))
		return fmt.Sprintf("internal error during %s; check server logs", op)
	}
}
