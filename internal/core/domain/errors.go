package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNotAllowed     = errors.New("only SELECT queries are allowed")
	ErrMultiStatement = errors.New("multiple statements are not allowed")
	ErrParseFailed    = errors.New("failed to parse SQL")
	ErrNotFound       = errors.New("not found")

	// ErrQueryTimeout is returned by executors when the database cancelled a
	// statement because it exceeded the statement timeout.
	ErrQueryTimeout = errors.New("query timed out")

	// ErrSchemaNotFound is returned when a namespace cannot be bound because
	// it does not exist on the backend.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrEmptyFindings guards against an incorrect verdict with no reasons.
	ErrEmptyFindings = errors.New("incorrect verdict requires at least one finding")
)

// SyntaxCause narrows down why a statement was rejected before execution.
type SyntaxCause string

const (
	CauseEmpty          SyntaxCause = "empty"
	CauseParse          SyntaxCause = "parse"
	CauseMultiStatement SyntaxCause = "multi_statement"
	CauseNotAllowed     SyntaxCause = "not_allowed"
)

// SyntaxError reports SQL text that does not parse into a single statement.
type SyntaxError struct {
	Cause   SyntaxCause
	Message string
	Err     error
}

func (e *SyntaxError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// SecurityError is a syntax failure for statements that parse but are not
// permitted: anything other than a single read-only SELECT.
type SecurityError struct {
	SyntaxError
}

// As lets callers match a SecurityError as its embedded *SyntaxError.
func (e *SecurityError) As(target any) bool {
	if t, ok := target.(**SyntaxError); ok {
		*t = &e.SyntaxError
		return true
	}
	return false
}

// ConfigError reports a malformed schema definition. It is a caller error,
// never attributed to the student.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid schema definition: " + e.Reason
	}
	return fmt.Sprintf("invalid schema definition: %s: %s", e.Field, e.Reason)
}

// StatementError reports that the database rejected a statement (type error,
// missing function, division by zero, ...). Executors return it for errors
// the SQL text is responsible for; everything else is infrastructure.
type StatementError struct {
	Code    string // SQLSTATE or driver error code
	Message string
	Detail  string
	Hint    string
	Err     error
}

func (e *StatementError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
}

func (e *StatementError) Unwrap() error { return e.Err }
