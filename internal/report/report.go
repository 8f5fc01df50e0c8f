// Package report renders verdicts and result sets as text tables for the CLI.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeader(header)
	return t
}

// Result writes res as a table followed by a row count line.
func Result(w io.Writer, res *domain.ExecutionResult) error {
	t := newTable(w, res.Columns)
	for _, row := range res.Rows {
		t.Append(cells(row))
	}
	t.Render()

	suffix := ""
	if res.Truncated {
		suffix = ", truncated"
	}
	_, err := fmt.Fprintf(w, "(%d %s%s)\n", len(res.Rows), plural(len(res.Rows), "row"), suffix)
	return err
}

// Verdict writes a one-line outcome followed by one section per finding.
func Verdict(w io.Writer, v *domain.Verdict) error {
	if v.IsCorrect() {
		_, err := fmt.Fprintln(w, "CORRECT")
		return err
	}
	if _, err := fmt.Fprintf(w, "INCORRECT (%s)\n", v.ErrorType()); err != nil {
		return err
	}

	for _, f := range v.Findings() {
		if _, err := fmt.Fprintf(w, "\n%s: %s\n", f.Kind(), f.Summary()); err != nil {
			return err
		}
		if err := finding(w, f); err != nil {
			return err
		}
	}
	return nil
}

func finding(w io.Writer, f domain.Finding) error {
	switch f := f.(type) {
	case domain.InvalidTable:
		return hint(w, "available tables", f.AvailableTables)
	case domain.InvalidColumn:
		return hint(w, "available columns", f.AvailableColumns)
	case domain.AmbiguousColumn:
		return line(w, f.Suggestion)
	case domain.ExecutionFailure:
		if f.Hint != "" {
			return line(w, "hint: "+f.Hint)
		}
	case domain.RuntimeFailure:
		return line(w, f.Suggestion)
	case domain.ColumnMismatch:
		t := newTable(w, []string{"", "columns"})
		t.Append([]string{"student", strings.Join(f.StudentColumns, ", ")})
		t.Append([]string{"reference", strings.Join(f.ReferenceColumns, ", ")})
		t.Render()
	case domain.OrderedRowMismatch:
		t := newTable(w, []string{"row", "status", "column", "student", "reference"})
		for _, r := range f.Rows {
			row := strconv.Itoa(r.Row)
			switch r.Status {
			case domain.RowMissing:
				t.Append([]string{row, string(r.Status), "", "", record(r.ReferenceData)})
			case domain.RowExtra:
				t.Append([]string{row, string(r.Status), "", record(r.StudentData), ""})
			default:
				for _, d := range r.Differences {
					t.Append([]string{row, string(r.Status), d.Column, d.StudentValue.String(), d.ReferenceValue.String()})
				}
			}
		}
		t.Render()
	case domain.UnorderedRowMismatch:
		t := newTable(w, []string{"", "row"})
		for _, r := range f.ExtraRows {
			t.Append([]string{"extra", record(r)})
		}
		for _, r := range f.MissingRows {
			t.Append([]string{"missing", record(r)})
		}
		t.Render()
	}
	return nil
}

func hint(w io.Writer, label string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return line(w, label+": "+strings.Join(names, ", "))
}

func line(w io.Writer, s string) error {
	if s == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, "  "+s)
	return err
}

func cells(row []domain.Value) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = v.String()
	}
	return out
}

func record(r domain.Record) string {
	parts := make([]string, len(r))
	for i, c := range r {
		parts[i] = c.Column + "=" + c.Value.String()
	}
	return strings.Join(parts, ", ")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
