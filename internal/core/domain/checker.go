package domain

import (
	"fmt"
	"strings"
)

// Check cross-references the tables and columns a statement uses against the
// catalog. Every problem is reported; an empty result means the statement is
// safe to execute.
func Check(refs *ParsedReference, catalog *Catalog, schemaName string) []Finding {
	c := &checker{catalog: catalog, schema: schemaName, seen: make(map[string]bool)}
	if refs == nil {
		return nil
	}
	for _, t := range refs.Tables {
		c.checkTable(t)
	}
	for _, col := range refs.Columns {
		c.checkColumn(col)
	}
	return c.findings
}

type checker struct {
	catalog  *Catalog
	schema   string
	findings []Finding
	seen     map[string]bool
}

func (c *checker) add(f Finding, identifier string) {
	key := string(f.Kind()) + "|" + identifier
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.findings = append(c.findings, f)
}

// foreignSchema reports whether a schema qualifier names a namespace other
// than the question's. The question's schema name reads as an unquoted
// identifier.
func (c *checker) foreignSchema(schema string) bool {
	return schema != "" && c.schema != "" && schema != c.schema && schema != strings.ToLower(c.schema)
}

// resolve finds the catalog table for a base-table reference. Tables in a
// foreign schema never resolve, even when the definition declares them.
func (c *checker) resolve(ref TableRef) (*Table, bool) {
	if ref.Schema != "" {
		if c.foreignSchema(ref.Schema) {
			return nil, false
		}
		if t, ok := c.catalog.Lookup(ref.Identifier()); ok {
			return t, true
		}
	}
	return c.catalog.Lookup(ref.Name)
}

func (c *checker) checkTable(ref TableRef) {
	id := ref.Identifier()
	if c.foreignSchema(ref.Schema) {
		c.add(InvalidTable{
			Message:         "schema mismatch",
			Table:           id,
			Cause:           TableSchemaMismatch,
			Reason:          fmt.Sprintf("table %q uses schema %q but this question uses schema %q", id, ref.Schema, c.schema),
			AvailableTables: c.catalog.SimpleNames(),
		}, id)
		return
	}
	if _, ok := c.resolve(ref); ok {
		return
	}
	c.add(InvalidTable{
		Message:         "table not found",
		Table:           id,
		Cause:           TableNotFound,
		Reason:          fmt.Sprintf("table %q does not exist", id),
		AvailableTables: c.catalog.SimpleNames(),
	}, id)
}

func (c *checker) checkColumn(ref ColumnRef) {
	if c.foreignSchema(ref.Schema) {
		c.add(SchemaMismatch{
			Message:  "schema mismatch",
			Column:   ref.Identifier(),
			Schema:   ref.Schema,
			Expected: c.schema,
			Reason:   fmt.Sprintf("column %q uses schema %q but this question uses schema %q", ref.Identifier(), ref.Schema, c.schema),
		}, ref.Identifier())
		return
	}
	if ref.Qualified() {
		c.checkQualified(ref)
		return
	}
	c.checkBare(ref)
}

func (c *checker) checkQualified(ref ColumnRef) {
	if src := findSource(ref.Scope, ref.Table); src != nil {
		switch {
		case src.Open, ref.Star:
			return
		case src.Table != nil:
			t, ok := c.resolve(*src.Table)
			if !ok {
				// Already reported as an invalid table.
				return
			}
			if !c.catalog.HasColumn(t, ref.Name) {
				c.missingColumn(ref, t.Name, t.ColumnNames())
			}
		default:
			if !containsName(src.Columns, ref.Name) {
				c.missingColumn(ref, src.Name, src.Columns)
			}
		}
		return
	}

	t, ok := c.resolve(TableRef{Schema: ref.Schema, Name: ref.Table})
	if !ok {
		reason := fmt.Sprintf("table or alias %q is not available for column %q", ref.Table, ref.Name)
		if ref.Star {
			reason = fmt.Sprintf("table or alias %q in %q is not in the FROM clause", ref.Table, ref.Identifier())
		}
		c.add(InvalidColumn{
			Message: "invalid column",
			Column:  ref.Identifier(),
			Table:   ref.Table,
			Reason:  reason,
		}, ref.Identifier())
		return
	}
	if !ref.Star && !c.catalog.HasColumn(t, ref.Name) {
		c.missingColumn(ref, t.Name, t.ColumnNames())
	}
}

func (c *checker) missingColumn(ref ColumnRef, table string, available []string) {
	f := InvalidColumn{
		Message:          "invalid column",
		Column:           ref.Identifier(),
		Table:            table,
		Reason:           fmt.Sprintf("column %q does not exist in table %q", ref.Name, table),
		AvailableColumns: available,
	}
	c.withTypeHint(&f, ref.Name)
	c.add(f, ref.Identifier())
}

// withTypeHint points at a same-named column elsewhere in the schema.
func (c *checker) withTypeHint(f *InvalidColumn, name string) {
	owners := c.catalog.FindColumn(name)
	if len(owners) == 0 {
		return
	}
	f.ExpectedType = owners[0].Column.Type
	f.Reason += fmt.Sprintf("; a column named %q exists in table %q", owners[0].Column.Name, owners[0].Table)
}

func (c *checker) checkBare(ref ColumnRef) {
	for _, level := range ref.Scope {
		if containsName(level.Merged, ref.Name) {
			return
		}

		var owners []string
		open := false
		for _, src := range level.Sources {
			switch {
			case src.Open:
				open = true
			case src.Table != nil:
				t, ok := c.resolve(*src.Table)
				if !ok {
					open = true
					continue
				}
				if c.catalog.HasColumn(t, ref.Name) {
					owners = append(owners, src.Name)
				}
			default:
				if containsName(src.Columns, ref.Name) {
					owners = append(owners, src.Name)
				}
			}
		}

		switch {
		case len(owners) == 1:
			return
		case len(owners) > 1:
			if level.Natural {
				return
			}
			c.add(AmbiguousColumn{
				Message:         "ambiguous column",
				Column:          ref.Name,
				Reason:          fmt.Sprintf("column %q exists in tables %s", ref.Name, strings.Join(owners, ", ")),
				CandidateTables: owners,
				Suggestion:      fmt.Sprintf("qualify the column, e.g. %s.%s", owners[0], ref.Name),
			}, ref.Name)
			return
		case open:
			return
		}
	}

	f := InvalidColumn{
		Message: "invalid column",
		Column:  ref.Name,
		Reason:  fmt.Sprintf("column %q not found in any table in scope", ref.Name),
	}
	if len(ref.Scope) > 0 {
		f.AvailableColumns = c.visibleColumns(ref.Scope[0])
	}
	c.withTypeHint(&f, ref.Name)
	c.add(f, ref.Name)
}

func (c *checker) visibleColumns(level *ScopeLevel) []string {
	var cols []string
	for _, src := range level.Sources {
		if src.Table != nil {
			if t, ok := c.resolve(*src.Table); ok {
				cols = append(cols, t.ColumnNames()...)
			}
			continue
		}
		cols = append(cols, src.Columns...)
	}
	return cols
}

// findSource resolves a qualifier against the visible FROM items, innermost
// level first.
func findSource(levels []*ScopeLevel, name string) *FromItem {
	for _, level := range levels {
		for _, src := range level.Sources {
			if src.Name != "" && src.Name == name {
				return src
			}
		}
	}
	return nil
}

// containsName matches parser-produced names, which are already folded.
func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
