package domain

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Statement is a single parsed, read-only SELECT.
type Statement struct {
	SQL         string
	Fingerprint string
	Tree        *pg_query.ParseResult
}

// Select returns the top-level SELECT of the statement.
func (s *Statement) Select() *pg_query.SelectStmt {
	return s.Tree.GetStmts()[0].GetStmt().GetSelectStmt()
}

// Sanitizer parses SQL with PostgreSQL's actual parser and rejects anything
// that isn't a single read-only SELECT statement (whitelist approach).
type Sanitizer struct{}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Parse parses and vets the SQL text. The parser alone decides how many
// statements the text holds. Failures are *SyntaxError or
// *SecurityError.
func (s *Sanitizer) Parse(sql string) (*Statement, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, syntaxError(CauseEmpty, ErrEmptyQuery, "")
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		// A parse failure in a later statement still makes the text a batch.
		if parts, serr := pg_query.SplitWithScanner(trimmed, true); serr == nil && len(nonEmpty(parts)) > 1 {
			return nil, securityError(CauseMultiStatement, ErrMultiStatement, "")
		}
		return nil, syntaxError(CauseParse, ErrParseFailed, err.Error())
	}
	if len(tree.Stmts) == 0 || tree.Stmts[0].Stmt == nil {
		return nil, syntaxError(CauseEmpty, ErrEmptyQuery, "")
	}
	if len(tree.Stmts) > 1 {
		return nil, securityError(CauseMultiStatement, ErrMultiStatement, "")
	}

	sel := tree.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil {
		return nil, securityError(CauseNotAllowed, ErrNotAllowed, statementKind(tree.Stmts[0].Stmt))
	}
	if reason := rejectSelect(sel); reason != "" {
		return nil, securityError(CauseNotAllowed, ErrNotAllowed, reason)
	}

	fp, err := pg_query.Fingerprint(trimmed)
	if err != nil {
		fp = ""
	}

	return &Statement{
		SQL:         statementText(trimmed, tree.Stmts[0]),
		Fingerprint: fp,
		Tree:        tree,
	}, nil
}

// statementText cuts the statement out of sql using the parser's byte
// offsets, dropping the terminating semicolon.
func statementText(sql string, raw *pg_query.RawStmt) string {
	start, end := int(raw.StmtLocation), len(sql)
	if raw.StmtLen > 0 && start+int(raw.StmtLen) <= end {
		end = start + int(raw.StmtLen)
	}
	if start < 0 || start > end {
		start = 0
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql[start:end]), ";"))
}

// rejectSelect finds SELECT forms that write or lock: SELECT INTO, FOR
// UPDATE/SHARE and data-modifying CTEs, at any nesting level of set operations.
func rejectSelect(sel *pg_query.SelectStmt) string {
	if sel == nil {
		return ""
	}
	if sel.IntoClause != nil {
		return "SELECT INTO creates a table"
	}
	if len(sel.LockingClause) > 0 {
		return "locking clauses (FOR UPDATE/SHARE) are not allowed"
	}
	if with := sel.WithClause; with != nil {
		for _, node := range with.Ctes {
			cte := node.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			q := cte.GetCtequery()
			if inner := q.GetSelectStmt(); inner != nil {
				if reason := rejectSelect(inner); reason != "" {
					return reason
				}
				continue
			}
			return "data-modifying WITH clause (" + statementKind(q) + ")"
		}
	}
	if reason := rejectSelect(sel.Larg); reason != "" {
		return reason
	}
	return rejectSelect(sel.Rarg)
}

func statementKind(node *pg_query.Node) string {
	switch {
	case node.GetInsertStmt() != nil:
		return "INSERT"
	case node.GetUpdateStmt() != nil:
		return "UPDATE"
	case node.GetDeleteStmt() != nil:
		return "DELETE"
	case node.GetMergeStmt() != nil:
		return "MERGE"
	case node.GetDropStmt() != nil:
		return "DROP"
	case node.GetTruncateStmt() != nil:
		return "TRUNCATE"
	case node.GetCreateStmt() != nil, node.GetCreateTableAsStmt() != nil:
		return "CREATE"
	case node.GetAlterTableStmt() != nil:
		return "ALTER"
	case node.GetExplainStmt() != nil:
		return "EXPLAIN"
	default:
		return "non-SELECT statement"
	}
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(strings.TrimRight(strings.TrimSpace(p), ";")) != "" {
			out = append(out, p)
		}
	}
	return out
}

func syntaxError(cause SyntaxCause, err error, msg string) *SyntaxError {
	return &SyntaxError{Cause: cause, Message: msg, Err: err}
}

func securityError(cause SyntaxCause, err error, msg string) *SecurityError {
	return &SecurityError{SyntaxError{Cause: cause, Message: msg, Err: err}}
}
