package domain

import (
	"encoding/json"
	"strings"
)

// ExecutionResult is the ordered output of one statement.
type ExecutionResult struct {
	Columns []string
	Rows    [][]Value
	// Truncated is set when the executor stopped reading at its row cap.
	Truncated bool
}

// Cell is one named value of a reported row.
type Cell struct {
	Column string `json:"column"`
	Value  Value  `json:"value"`
}

// Record is a reported row. Column order is kept, so it serializes as an
// object only when column names are unique.
type Record []Cell

func (r Record) MarshalJSON() ([]byte, error) {
	seen := make(map[string]bool, len(r))
	for _, c := range r {
		if seen[c.Column] {
			return json.Marshal([]Cell(r))
		}
		seen[c.Column] = true
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(c.Column)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Record returns row i paired with the result's column names.
func (r *ExecutionResult) Record(i int) Record {
	row := r.Rows[i]
	rec := make(Record, len(row))
	for j, v := range row {
		name := ""
		if j < len(r.Columns) {
			name = r.Columns[j]
		}
		rec[j] = Cell{Column: name, Value: v}
	}
	return rec
}
