package port

import "context"

// AuditEntry represents a single graded submission.
type AuditEntry struct {
	ValidationID string
	Tool         string
	Schema       string
	SQL          string
	Fingerprint  string
	IsCorrect    bool
	ErrorType    string
	DurationMS   int64
	Err          error
}

// ValidationAuditor records grading audit events.
type ValidationAuditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}
