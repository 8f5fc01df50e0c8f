package exercise

import (
	"fmt"
	"os"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a YAML exercise set and returns it validated.
func LoadFromFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading exercise file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML exercise set.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing exercise YAML: %w", err)
	}
	if err := validate(&set); err != nil {
		return nil, fmt.Errorf("validating exercises: %w", err)
	}
	return &set, nil
}

func validate(set *Set) error {
	sanitizer := domain.NewSanitizer()

	schemas := make(map[string]*domain.Catalog, len(set.Schemas))
	for i, sc := range set.Schemas {
		if sc.Name == "" {
			return fmt.Errorf("schemas[%d].name is empty", i)
		}
		if _, dup := schemas[sc.Name]; dup {
			return fmt.Errorf("schemas[%d]: duplicate schema %q", i, sc.Name)
		}

		for j, t := range sc.Tables {
			for k, c := range t.Columns {
				if c.Name == "" {
					return fmt.Errorf("schemas[%q].tables[%d].columns[%d]: empty column name", sc.Name, j, k)
				}
			}
		}
		catalog, err := domain.BuildCatalog(sc.Definition())
		if err != nil {
			return fmt.Errorf("schemas[%q]: %w", sc.Name, err)
		}
		schemas[sc.Name] = catalog
	}

	ids := make(map[string]bool, len(set.Questions))
	for i, q := range set.Questions {
		if q.ID == "" {
			return fmt.Errorf("questions[%d].id is empty", i)
		}
		if ids[q.ID] {
			return fmt.Errorf("questions[%d]: duplicate id %q", i, q.ID)
		}
		ids[q.ID] = true

		catalog, ok := schemas[q.Schema]
		if !ok {
			return fmt.Errorf("questions[%q].schema: unknown schema %q", q.ID, q.Schema)
		}
		stmt, err := sanitizer.Parse(q.AnswerSQL)
		if err != nil {
			return fmt.Errorf("questions[%q].answer_sql: %w", q.ID, err)
		}
		// A reference answer must pass the same checks as a student's.
		if findings := domain.Check(domain.ExtractReferences(stmt), catalog, q.Schema); len(findings) > 0 {
			return fmt.Errorf("questions[%q].answer_sql: %s", q.ID, findings[0].Summary())
		}
	}
	return nil
}
