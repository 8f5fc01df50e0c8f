package domain

import (
	"fmt"
	"strings"
)

// ComparisonOutcome is the result of comparing two executions.
type ComparisonOutcome struct {
	Equivalent bool
	Findings   []Finding
}

// columnPair aligns a student column with a reference column.
type columnPair struct {
	name      string
	student   int
	reference int
}

// Compare decides whether the student's result matches the reference result.
// The column check always runs; row comparison proceeds even when columns
// differ, over the columns the two results have in common.
func Compare(student, reference *ExecutionResult, orderSensitive bool) ComparisonOutcome {
	comparison := ComparisonSetBased
	if orderSensitive {
		comparison = ComparisonRowOrdered
	}

	var findings []Finding
	if f, ok := compareColumns(student.Columns, reference.Columns, comparison); ok {
		findings = append(findings, f)
	}

	if len(student.Rows) != len(reference.Rows) {
		diff := len(student.Rows) - len(reference.Rows)
		if diff < 0 {
			diff = -diff
		}
		findings = append(findings, RowCountMismatch{
			Message:        fmt.Sprintf("result has %d rows, expected %d", len(student.Rows), len(reference.Rows)),
			ComparisonType: comparison,
			StudentRows:    len(student.Rows),
			ReferenceRows:  len(reference.Rows),
			Difference:     diff,
		})
	}

	pairs := alignColumns(student.Columns, reference.Columns)
	if orderSensitive {
		if f, ok := compareOrdered(student, reference, pairs); ok {
			findings = append(findings, f)
		}
	} else {
		if f, ok := compareBag(student, reference, pairs); ok {
			findings = append(findings, f)
		}
	}

	return ComparisonOutcome{Equivalent: len(findings) == 0, Findings: findings}
}

func compareColumns(student, reference []string, comparison ComparisonType) (Finding, bool) {
	if equalStrings(student, reference) {
		return nil, false
	}
	missing := minus(reference, student)
	extra := minus(student, reference)
	msg := "result columns do not match"
	if len(missing) == 0 && len(extra) == 0 {
		msg = "result columns are in a different order"
	}
	return ColumnMismatch{
		Message:          msg,
		ComparisonType:   comparison,
		StudentColumns:   student,
		ReferenceColumns: reference,
		Difference:       append(append([]string{}, extra...), missing...),
		MissingInStudent: missing,
		ExtraInStudent:   extra,
	}, true
}

// alignColumns pairs the n-th occurrence of a name in one list with the n-th
// occurrence in the other, in reference order. When no names line up but the
// widths match (columns renamed with aliases), columns pair positionally.
func alignColumns(student, reference []string) []columnPair {
	used := make(map[int]bool, len(student))
	var pairs []columnPair
	for ri, name := range reference {
		for si, sname := range student {
			if !used[si] && sname == name {
				used[si] = true
				pairs = append(pairs, columnPair{name: name, student: si, reference: ri})
				break
			}
		}
	}
	if len(pairs) == 0 && len(student) == len(reference) {
		for i, name := range reference {
			pairs = append(pairs, columnPair{name: name, student: i, reference: i})
		}
	}
	return pairs
}

func compareOrdered(student, reference *ExecutionResult, pairs []columnPair) (Finding, bool) {
	n := max(len(student.Rows), len(reference.Rows))
	var diffs []RowDiff
	for i := 0; i < n; i++ {
		switch {
		case i >= len(student.Rows):
			diffs = append(diffs, RowDiff{Row: i + 1, Status: RowMissing, ReferenceData: reference.Record(i)})
		case i >= len(reference.Rows):
			diffs = append(diffs, RowDiff{Row: i + 1, Status: RowExtra, StudentData: student.Record(i)})
		default:
			var cells []ValueDiff
			for _, p := range pairs {
				sv, rv := student.Rows[i][p.student], reference.Rows[i][p.reference]
				if !sv.Equal(rv) {
					cells = append(cells, ValueDiff{Column: p.name, StudentValue: sv, ReferenceValue: rv})
				}
			}
			if len(cells) > 0 {
				diffs = append(diffs, RowDiff{Row: i + 1, Status: RowMismatch, Differences: cells})
			}
		}
	}
	if len(diffs) == 0 {
		return nil, false
	}
	return OrderedRowMismatch{
		Message:        fmt.Sprintf("%d rows differ (row order must match)", len(diffs)),
		ComparisonType: ComparisonRowOrdered,
		Rows:           diffs,
	}, true
}

// compareBag compares rows as multisets: each student row consumes one
// matching reference row, so an extra duplicate is reported.
func compareBag(student, reference *ExecutionResult, pairs []columnPair) (Finding, bool) {
	remaining := make(map[string][]int, len(reference.Rows))
	for i, row := range reference.Rows {
		key := rowKey(row, pairs, false)
		remaining[key] = append(remaining[key], i)
	}

	var extra []Record
	for i, row := range student.Rows {
		key := rowKey(row, pairs, true)
		if idx := remaining[key]; len(idx) > 0 {
			remaining[key] = idx[1:]
			continue
		}
		extra = append(extra, student.Record(i))
	}

	var missing []Record
	for i, row := range reference.Rows {
		key := rowKey(row, pairs, false)
		if idx := remaining[key]; len(idx) > 0 && idx[0] == i {
			remaining[key] = idx[1:]
			missing = append(missing, reference.Record(i))
		}
	}

	if len(extra) == 0 && len(missing) == 0 {
		return nil, false
	}
	return UnorderedRowMismatch{
		Message:        fmt.Sprintf("%d unexpected and %d missing rows (row order ignored)", len(extra), len(missing)),
		ComparisonType: ComparisonSetBased,
		ExtraRows:      nonNilRecords(extra),
		MissingRows:    nonNilRecords(missing),
	}, true
}

func rowKey(row []Value, pairs []columnPair, student bool) string {
	var b strings.Builder
	for _, p := range pairs {
		idx := p.reference
		if student {
			idx = p.student
		}
		k := row[idx].Key()
		// Length prefix keeps keys unambiguous whatever the cell contains.
		fmt.Fprintf(&b, "%d:%s|", len(k), k)
	}
	return b.String()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// minus returns the names of a not present in b, counting duplicates.
func minus(a, b []string) []string {
	counts := make(map[string]int, len(b))
	for _, s := range b {
		counts[s]++
	}
	var out []string
	for _, s := range a {
		if counts[s] > 0 {
			counts[s]--
			continue
		}
		out = append(out, s)
	}
	return out
}

func nonNilRecords(r []Record) []Record {
	if r == nil {
		return []Record{}
	}
	return r
}
