package domain

import (
	"encoding/json"
	"strings"
)

// SchemaDefinition is the instructor-authored description of the tables a
// question is asked against. Table names may be schema-qualified.
type SchemaDefinition struct {
	Tables []Table `json:"tables" yaml:"tables"`
}

type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
}

type Column struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Primary bool   `json:"primary,omitempty" yaml:"primary,omitempty"`
}

// SimpleName is the table name without its schema qualifier.
func (t Table) SimpleName() string {
	return simpleName(t.Name)
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// DecodeSchemaDefinition parses the JSON form of a schema definition. A
// document without a "tables" key is a *ConfigError.
func DecodeSchemaDefinition(data []byte) (*SchemaDefinition, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	tables, ok := raw["tables"]
	if !ok {
		return nil, &ConfigError{Field: "tables", Reason: "missing"}
	}

	def := &SchemaDefinition{Tables: []Table{}}
	if err := json.Unmarshal(tables, &def.Tables); err != nil {
		return nil, &ConfigError{Field: "tables", Reason: err.Error()}
	}
	if def.Tables == nil {
		return nil, &ConfigError{Field: "tables", Reason: "must be a list"}
	}
	return def, nil
}

func simpleName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
