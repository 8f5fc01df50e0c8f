package exercise

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Set is an exercise set: the schemas questions are asked against and the
// questions with their reference answers.
type Set struct {
	Schemas   []Schema   `yaml:"schemas"`
	Questions []Question `yaml:"questions"`
}

// Schema describes one question schema. InitSQL seeds fixture backends; a
// live PostgreSQL backend is expected to hold the data already.
type Schema struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Tables      []Table `yaml:"tables" json:"tables"`
	InitSQL     string  `yaml:"init_sql,omitempty" json:"init_sql,omitempty"`
}

type Table struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []Column `yaml:"columns" json:"columns"`
}

// Column is a schema column. Both forms below decode:
//
//	columns:
//	  - id integer          # shorthand: "<name> <type>"
//	  - name: total         # full form
//	    type: numeric
//	    primary: false
type Column domain.Column

func (c *Column) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		name, typ, _ := strings.Cut(strings.TrimSpace(value.Value), " ")
		c.Name = name
		c.Type = strings.TrimSpace(typ)
		return nil
	}
	type alias domain.Column
	var a alias
	if err := value.Decode(&a); err != nil {
		return fmt.Errorf("decoding column: %w", err)
	}
	*c = Column(a)
	return nil
}

// Question is one exercise with its reference answer.
type Question struct {
	ID             string   `yaml:"id" json:"id"`
	Schema         string   `yaml:"schema" json:"schema"`
	Description    string   `yaml:"description" json:"description"`
	AnswerSQL      string   `yaml:"answer_sql" json:"-"`
	OrderSensitive bool     `yaml:"order_sensitive" json:"order_sensitive"`
	Tags           []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Definition converts the schema into the form the grader consumes.
func (s Schema) Definition() *domain.SchemaDefinition {
	def := &domain.SchemaDefinition{Tables: make([]domain.Table, len(s.Tables))}
	for i, t := range s.Tables {
		cols := make([]domain.Column, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = domain.Column(c)
		}
		def.Tables[i] = domain.Table{Name: t.Name, Columns: cols}
	}
	return def
}

// FromDefinition is the inverse of Definition, used to author exercise
// files from a live database.
func FromDefinition(name string, def *domain.SchemaDefinition) Schema {
	sc := Schema{Name: name, Tables: make([]Table, len(def.Tables))}
	for i, t := range def.Tables {
		cols := make([]Column, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = Column(c)
		}
		sc.Tables[i] = Table{Name: t.Name, Columns: cols}
	}
	return sc
}

// Schema returns the schema with the given name.
func (s *Set) Schema(name string) (Schema, error) {
	for _, sc := range s.Schemas {
		if sc.Name == name {
			return sc, nil
		}
	}
	return Schema{}, fmt.Errorf("schema %q: %w", name, domain.ErrNotFound)
}

// Question returns the question with the given id.
func (s *Set) Question(id string) (Question, error) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, nil
		}
	}
	return Question{}, fmt.Errorf("question %q: %w", id, domain.ErrNotFound)
}

// List returns the questions carrying tag, or all of them when tag is empty.
func (s *Set) List(tag string) []Question {
	out := make([]Question, 0, len(s.Questions))
	for _, q := range s.Questions {
		if tag == "" || slices.Contains(q.Tags, tag) {
			out = append(out, q)
		}
	}
	return out
}

// Seeder accepts fixture data for a schema.
type Seeder interface {
	Register(ctx context.Context, schemaName, initSQL string) error
}

// Seed registers every schema's init SQL with seeder.
func (s *Set) Seed(ctx context.Context, seeder Seeder) error {
	for _, sc := range s.Schemas {
		if err := seeder.Register(ctx, sc.Name, sc.InitSQL); err != nil {
			return fmt.Errorf("seeding schema %q: %w", sc.Name, err)
		}
	}
	return nil
}
