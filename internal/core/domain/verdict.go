package domain

import (
	"encoding/json"
	"fmt"
)

// ErrorType classifies an incorrect verdict by the pipeline stage that failed.
type ErrorType string

const (
	ErrorTypeSyntax         ErrorType = "syntax_error"
	ErrorTypeSemantic       ErrorType = "semantic_error"
	ErrorTypeExecution      ErrorType = "execution_error"
	ErrorTypeResultMismatch ErrorType = "result_mismatch"
	ErrorTypeRuntime        ErrorType = "runtime_error"
)

// Valid reports whether t is one of the known error types.
func (t ErrorType) Valid() bool {
	switch t {
	case ErrorTypeSyntax, ErrorTypeSemantic, ErrorTypeExecution, ErrorTypeResultMismatch, ErrorTypeRuntime:
		return true
	}
	return false
}

// Verdict is the outcome of grading one submission. It cannot be modified
// once built.
type Verdict struct {
	correct   bool
	errorType ErrorType
	findings  []Finding
}

// Correct returns the verdict for a matching answer.
func Correct() *Verdict {
	return &Verdict{correct: true}
}

// NewVerdict builds an incorrect verdict. An incorrect verdict always carries
// at least one finding.
func NewVerdict(errType ErrorType, findings []Finding) (*Verdict, error) {
	if !errType.Valid() {
		return nil, fmt.Errorf("unknown error type %q", errType)
	}
	if len(findings) == 0 {
		return nil, fmt.Errorf("%s: %w", errType, ErrEmptyFindings)
	}
	return &Verdict{
		errorType: errType,
		findings:  append([]Finding(nil), findings...),
	}, nil
}

func (v *Verdict) IsCorrect() bool      { return v.correct }
func (v *Verdict) ErrorType() ErrorType { return v.errorType }

// Findings returns a copy of the verdict's findings, empty when correct.
func (v *Verdict) Findings() []Finding {
	return append([]Finding(nil), v.findings...)
}

// Summary is a one-line description for logs and CLI output.
func (v *Verdict) Summary() string {
	if v.correct {
		return "correct"
	}
	return fmt.Sprintf("%s: %s", v.errorType, v.findings[0].Summary())
}

func (v *Verdict) MarshalJSON() ([]byte, error) {
	details := make([]json.RawMessage, 0, len(v.findings))
	for _, f := range v.findings {
		b, err := MarshalFinding(f)
		if err != nil {
			return nil, err
		}
		details = append(details, b)
	}

	var errType *ErrorType
	if !v.correct {
		t := v.errorType
		errType = &t
	}

	return json.Marshal(struct {
		IsCorrect      bool              `json:"is_correct"`
		ErrorType      *ErrorType        `json:"error_type"`
		DetailedErrors []json.RawMessage `json:"detailed_errors"`
	}{
		IsCorrect:      v.correct,
		ErrorType:      errType,
		DetailedErrors: details,
	})
}
