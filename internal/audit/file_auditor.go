package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/guillermoBallester/sqlgrader/internal/core/port"
)

// fileEntry is the NDJSON-serializable form of an audit record.
type fileEntry struct {
	Timestamp    string  `json:"ts"`
	ValidationID string  `json:"validation_id"`
	Tool         string  `json:"tool"`
	Schema       string  `json:"schema"`
	SQL          string  `json:"sql"`
	Fingerprint  string  `json:"fingerprint,omitempty"`
	IsCorrect    bool    `json:"is_correct"`
	ErrorType    *string `json:"error_type"`
	DurationMS   int64   `json:"duration_ms"`
	SQLiSuspect  bool    `json:"sqli_suspect,omitempty"`
	SQLiPattern  string  `json:"sqli_pattern,omitempty"`
	Error        *string `json:"error"`
}

// FileAuditor writes audit entries as NDJSON (one JSON object per line) to a file.
type FileAuditor struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileAuditor opens (or creates) the file at path for append-only writing.
func NewFileAuditor(path string) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileAuditor{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (a *FileAuditor) Record(_ context.Context, entry port.AuditEntry) {
	fe := fileEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		ValidationID: entry.ValidationID,
		Tool:         entry.Tool,
		Schema:       entry.Schema,
		SQL:          entry.SQL,
		Fingerprint:  entry.Fingerprint,
		IsCorrect:    entry.IsCorrect,
		DurationMS:   entry.DurationMS,
	}
	if entry.ErrorType != "" {
		et := entry.ErrorType
		fe.ErrorType = &et
	}
	if entry.Err != nil {
		s := entry.Err.Error()
		fe.Error = &s
	}
	fe.SQLiSuspect, fe.SQLiPattern = suspect(entry.SQL)

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(fe) // best-effort; don't fail the request for audit I/O
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// suspect flags submissions that look like injection payloads rather than
// answers. It never affects grading.
func suspect(sql string) (bool, string) {
	isSQLi, fingerprint := libinjection.IsSQLi(sql)
	if !isSQLi {
		return false, ""
	}
	return true, string(fingerprint)
}

// NoopAuditor discards all audit entries.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, port.AuditEntry) {}
func (NoopAuditor) Close() error                            { return nil }
