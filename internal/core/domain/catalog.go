package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog indexes a SchemaDefinition by table name. Every table is reachable
// through its fully-qualified name and its simple name. A Catalog is built
// per validation call and never mutated afterwards.
type Catalog struct {
	tables []*Table
	byName map[string]*Table
	folded map[string]*Table
}

// ColumnOwner pairs a column with the table that declares it.
type ColumnOwner struct {
	Table  string
	Column Column
}

// BuildCatalog validates def and indexes its tables.
func BuildCatalog(def *SchemaDefinition) (*Catalog, error) {
	if def == nil || def.Tables == nil {
		return nil, &ConfigError{Field: "tables", Reason: "missing"}
	}

	c := &Catalog{
		byName: make(map[string]*Table, len(def.Tables)*2),
		folded: make(map[string]*Table, len(def.Tables)*2),
	}

	for i := range def.Tables {
		t := &def.Tables[i]
		if strings.TrimSpace(t.Name) == "" {
			return nil, &ConfigError{Field: fmt.Sprintf("tables[%d].name", i), Reason: "empty"}
		}

		keys := []string{t.Name}
		if simple := t.SimpleName(); simple != t.Name {
			keys = append(keys, simple)
		}
		for _, key := range keys {
			if _, dup := c.byName[key]; dup {
				return nil, &ConfigError{Field: fmt.Sprintf("tables[%d].name", i), Reason: fmt.Sprintf("duplicate table name %q", key)}
			}
			c.byName[key] = t
			// Declared names read as unquoted identifiers, so their folded
			// form is reachable too. First writer wins.
			if _, ok := c.folded[strings.ToLower(key)]; !ok {
				c.folded[strings.ToLower(key)] = t
			}
		}

		seen := make(map[string]bool, len(t.Columns))
		for j, col := range t.Columns {
			if strings.TrimSpace(col.Name) == "" {
				return nil, &ConfigError{Field: fmt.Sprintf("tables[%d].columns[%d].name", i, j), Reason: "empty"}
			}
			if seen[col.Name] {
				return nil, &ConfigError{Field: fmt.Sprintf("tables[%d].columns", i), Reason: fmt.Sprintf("duplicate column %q in table %q", col.Name, t.Name)}
			}
			seen[col.Name] = true
		}

		c.tables = append(c.tables, t)
	}

	return c, nil
}

// Lookup resolves a table by qualified or simple name as the parser produced
// it: unquoted identifiers arrive folded to lower case, quoted ones as
// written. A quoted name therefore only matches a declared name exactly.
func (c *Catalog) Lookup(name string) (*Table, bool) {
	if t, ok := c.byName[name]; ok {
		return t, true
	}
	t, ok := c.folded[name]
	return t, ok
}

// HasColumn reports whether table t declares column name.
func (c *Catalog) HasColumn(t *Table, name string) bool {
	_, ok := columnOf(t, name)
	return ok
}

// FindColumn returns every table declaring a column with the given name.
func (c *Catalog) FindColumn(name string) []ColumnOwner {
	var owners []ColumnOwner
	for _, t := range c.tables {
		if col, ok := columnOf(t, name); ok {
			owners = append(owners, ColumnOwner{Table: t.Name, Column: col})
		}
	}
	return owners
}

// SimpleNames lists unqualified table names, sorted.
func (c *Catalog) SimpleNames() []string {
	names := make([]string, 0, len(c.tables))
	for _, t := range c.tables {
		names = append(names, t.SimpleName())
	}
	sort.Strings(names)
	return names
}

// QualifiedNames lists table names as declared, sorted.
func (c *Catalog) QualifiedNames() []string {
	names := make([]string, 0, len(c.tables))
	for _, t := range c.tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Tables returns the indexed tables in declaration order.
func (c *Catalog) Tables() []*Table {
	return c.tables
}

func columnOf(t *Table, name string) (Column, bool) {
	for _, col := range t.Columns {
		if col.Name == name {
			return col, true
		}
	}
	for _, col := range t.Columns {
		if strings.ToLower(col.Name) == name {
			return col, true
		}
	}
	return Column{}, false
}
