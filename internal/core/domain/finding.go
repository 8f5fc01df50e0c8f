package domain

import (
	"encoding/json"
	"errors"
)

// FindingKind tags a Finding variant in reports.
type FindingKind string

const (
	KindSyntaxError     FindingKind = "SyntaxError"
	KindSecurityError   FindingKind = "SecurityError"
	KindInvalidTable    FindingKind = "InvalidTable"
	KindInvalidColumn   FindingKind = "InvalidColumn"
	KindAmbiguousColumn FindingKind = "AmbiguousColumn"
	KindSchemaMismatch  FindingKind = "SchemaMismatch"
	KindExecutionError  FindingKind = "ExecutionError"
	KindRuntimeError    FindingKind = "RuntimeError"
	KindResultMismatch  FindingKind = "ResultMismatch"
)

// Finding is one problem found while grading. The set of implementations is
// closed: every variant lives in this file.
type Finding interface {
	Kind() FindingKind
	Summary() string
	finding()
}

// Source identifies which of the two statements a finding is about.
type Source string

const (
	SourceStudent   Source = "student"
	SourceReference Source = "reference"
)

// ComparisonType tags how result rows were compared.
type ComparisonType string

const (
	ComparisonRowOrdered ComparisonType = "row-ordered"
	ComparisonSetBased   ComparisonType = "set-based"
)

// TableCause distinguishes the two ways a table reference can be invalid.
type TableCause string

const (
	TableNotFound       TableCause = "not_found"
	TableSchemaMismatch TableCause = "schema_mismatch"
)

type SyntaxFinding struct {
	Message string      `json:"message"`
	Cause   SyntaxCause `json:"cause"`
	Detail  string      `json:"detail,omitempty"`
}

// SecurityFinding reports a statement that parsed but is not a read-only SELECT.
type SecurityFinding struct {
	Message string      `json:"message"`
	Cause   SyntaxCause `json:"cause"`
	Detail  string      `json:"detail,omitempty"`
}

type InvalidTable struct {
	Message         string     `json:"message"`
	Table           string     `json:"table"`
	Cause           TableCause `json:"cause"`
	Reason          string     `json:"reason"`
	AvailableTables []string   `json:"available_tables,omitempty"`
}

type InvalidColumn struct {
	Message          string   `json:"message"`
	Column           string   `json:"column"`
	Table            string   `json:"table,omitempty"`
	Reason           string   `json:"reason"`
	ExpectedType     string   `json:"expected_type,omitempty"`
	AvailableColumns []string `json:"available_columns,omitempty"`
}

type AmbiguousColumn struct {
	Message         string   `json:"message"`
	Column          string   `json:"column"`
	Reason          string   `json:"reason"`
	CandidateTables []string `json:"possible_tables"`
	Suggestion      string   `json:"suggestion"`
}

// SchemaMismatch reports a schema-qualified column whose schema is not the
// question's schema.
type SchemaMismatch struct {
	Message  string `json:"message"`
	Column   string `json:"column"`
	Schema   string `json:"schema"`
	Expected string `json:"expected_schema"`
	Reason   string `json:"reason"`
}

// ExecutionFailure reports that the database rejected one of the statements.
type ExecutionFailure struct {
	Message  string `json:"message"`
	Source   Source `json:"source"`
	SQL      string `json:"sql"`
	Error    string `json:"error"`
	SQLState string `json:"sqlstate,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// RuntimeFailure reports an infrastructure problem: namespace binding,
// connectivity, timeouts or an unexpected panic.
type RuntimeFailure struct {
	Message    string `json:"message"`
	Source     Source `json:"source,omitempty"`
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ColumnMismatch reports differing ordered result column lists.
type ColumnMismatch struct {
	Message          string         `json:"message"`
	ComparisonType   ComparisonType `json:"comparison_type"`
	StudentColumns   []string       `json:"student_columns"`
	ReferenceColumns []string       `json:"reference_columns"`
	Difference       []string       `json:"difference"`
	MissingInStudent []string       `json:"missing_in_student,omitempty"`
	ExtraInStudent   []string       `json:"extra_in_student,omitempty"`
}

// RowCountMismatch reports a cardinality difference.
type RowCountMismatch struct {
	Message        string         `json:"message"`
	ComparisonType ComparisonType `json:"comparison_type"`
	StudentRows    int            `json:"student_rows"`
	ReferenceRows  int            `json:"reference_rows"`
	Difference     int            `json:"difference"`
}

// RowStatus classifies one entry of a row-ordered comparison.
type RowStatus string

const (
	RowMissing  RowStatus = "missing"
	RowExtra    RowStatus = "extra"
	RowMismatch RowStatus = "mismatch"
)

// ValueDiff is one differing cell.
type ValueDiff struct {
	Column         string `json:"column"`
	StudentValue   Value  `json:"student_value"`
	ReferenceValue Value  `json:"reference_value"`
}

// RowDiff is one differing row of a row-ordered comparison. Row is 1-based.
type RowDiff struct {
	Row           int         `json:"row"`
	Status        RowStatus   `json:"status"`
	StudentData   Record      `json:"student_data,omitempty"`
	ReferenceData Record      `json:"reference_data,omitempty"`
	Differences   []ValueDiff `json:"differences,omitempty"`
}

// OrderedRowMismatch collects the row diffs of a row-ordered comparison.
type OrderedRowMismatch struct {
	Message        string         `json:"message"`
	ComparisonType ComparisonType `json:"comparison_type"`
	Rows           []RowDiff      `json:"details"`
}

// UnorderedRowMismatch reports the multiset difference of a set-based
// comparison.
type UnorderedRowMismatch struct {
	Message        string         `json:"message"`
	ComparisonType ComparisonType `json:"comparison_type"`
	ExtraRows      []Record       `json:"extra_rows_in_student"`
	MissingRows    []Record       `json:"missing_rows_in_student"`
}

func (SyntaxFinding) Kind() FindingKind        { return KindSyntaxError }
func (SecurityFinding) Kind() FindingKind      { return KindSecurityError }
func (InvalidTable) Kind() FindingKind         { return KindInvalidTable }
func (InvalidColumn) Kind() FindingKind        { return KindInvalidColumn }
func (AmbiguousColumn) Kind() FindingKind      { return KindAmbiguousColumn }
func (SchemaMismatch) Kind() FindingKind       { return KindSchemaMismatch }
func (ExecutionFailure) Kind() FindingKind     { return KindExecutionError }
func (RuntimeFailure) Kind() FindingKind       { return KindRuntimeError }
func (ColumnMismatch) Kind() FindingKind       { return KindResultMismatch }
func (RowCountMismatch) Kind() FindingKind     { return KindResultMismatch }
func (OrderedRowMismatch) Kind() FindingKind   { return KindResultMismatch }
func (UnorderedRowMismatch) Kind() FindingKind { return KindResultMismatch }

func (f SyntaxFinding) Summary() string        { return f.Message }
func (f SecurityFinding) Summary() string      { return f.Message }
func (f InvalidTable) Summary() string         { return f.Reason }
func (f InvalidColumn) Summary() string        { return f.Reason }
func (f AmbiguousColumn) Summary() string      { return f.Reason }
func (f SchemaMismatch) Summary() string       { return f.Reason }
func (f ExecutionFailure) Summary() string     { return f.Message + ": " + f.Error }
func (f RuntimeFailure) Summary() string       { return f.Message + ": " + f.Error }
func (f ColumnMismatch) Summary() string       { return f.Message }
func (f RowCountMismatch) Summary() string     { return f.Message }
func (f OrderedRowMismatch) Summary() string   { return f.Message }
func (f UnorderedRowMismatch) Summary() string { return f.Message }

func (SyntaxFinding) finding()        {}
func (SecurityFinding) finding()      {}
func (InvalidTable) finding()         {}
func (InvalidColumn) finding()        {}
func (AmbiguousColumn) finding()      {}
func (SchemaMismatch) finding()       {}
func (ExecutionFailure) finding()     {}
func (RuntimeFailure) finding()       {}
func (ColumnMismatch) finding()       {}
func (RowCountMismatch) finding()     {}
func (OrderedRowMismatch) finding()   {}
func (UnorderedRowMismatch) finding() {}

// MarshalFinding encodes a finding with its kind tag inlined.
func MarshalFinding(f Finding) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(f.Kind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

// FindingFromSyntaxError converts a sanitizer failure into a finding.
func FindingFromSyntaxError(err error) Finding {
	var sec *SecurityError
	if errors.As(err, &sec) {
		return SecurityFinding{Message: sec.Err.Error(), Cause: sec.Cause, Detail: sec.Message}
	}
	var syn *SyntaxError
	if errors.As(err, &syn) {
		return SyntaxFinding{Message: syn.Err.Error(), Cause: syn.Cause, Detail: syn.Message}
	}
	return SyntaxFinding{Message: ErrParseFailed.Error(), Cause: CauseParse, Detail: err.Error()}
}
