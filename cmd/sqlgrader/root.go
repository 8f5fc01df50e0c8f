package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/guillermoBallester/sqlgrader/internal/config"
	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/core/service"
	"github.com/guillermoBallester/sqlgrader/internal/exercise"
	"github.com/guillermoBallester/sqlgrader/internal/report"
	"github.com/spf13/cobra"
)

// errIncorrect makes grade and check exit non-zero for a wrong answer.
var errIncorrect = errors.New("answer is incorrect")

func newRootCmd() *cobra.Command {
	var flags overrideFlags

	root := &cobra.Command{
		Use:           "sqlgrader",
		Short:         "Grade SQL answers against reference answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(&flags),
		newGradeCmd(&flags),
		newCheckCmd(&flags),
		newQueryCmd(&flags),
		newSchemaCmd(&flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// loadConfig resolves the configuration for cmd and builds its logger.
func loadConfig(cmd *cobra.Command, flags *overrideFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.overrides(cmd.Flags()))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, newLogger(cfg.LogLevel), nil
}

// submissionFlags select what a student answer is graded against.
type submissionFlags struct {
	file         string
	exerciseID   string
	referenceSQL string
	schemaFile   string
	schemaName   string
	ordered      bool
	asJSON       bool
}

func (f *submissionFlags) register(cmd *cobra.Command, withReference bool) {
	fs := cmd.Flags()
	fs.StringVarP(&f.file, "file", "f", "", `read the student SQL from a file ("-" for stdin)`)
	fs.StringVarP(&f.exerciseID, "exercise", "e", "", "grade against a stored exercise")
	fs.StringVar(&f.schemaFile, "schema-file", "", "JSON schema definition file")
	fs.StringVar(&f.schemaName, "schema-name", "", "database schema the answer runs against")
	fs.BoolVar(&f.asJSON, "json", false, "print the verdict as JSON")
	if withReference {
		fs.StringVar(&f.referenceSQL, "reference-sql", "", "reference answer")
		fs.BoolVar(&f.ordered, "ordered", false, "row order matters")
	}
}

// studentSQL returns the answer from --file or the single positional argument.
func (f *submissionFlags) studentSQL(cmd *cobra.Command, args []string) (string, error) {
	switch {
	case f.file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	case f.file != "":
		b, err := os.ReadFile(f.file)
		if err != nil {
			return "", fmt.Errorf("reading student SQL: %w", err)
		}
		return string(b), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", errors.New("pass the student SQL as an argument or with --file")
	}
}

// submission resolves the reference side from an exercise or from flags.
func (f *submissionFlags) submission(set *exercise.Set, student string) (service.Submission, error) {
	if f.exerciseID != "" {
		if set == nil {
			return service.Submission{}, errors.New("--exercise needs an exercise set (--exercises or EXERCISES_FILE)")
		}
		q, err := set.Question(f.exerciseID)
		if err != nil {
			return service.Submission{}, err
		}
		sc, err := set.Schema(q.Schema)
		if err != nil {
			return service.Submission{}, err
		}
		return service.Submission{
			StudentSQL:     student,
			ReferenceSQL:   q.AnswerSQL,
			Schema:         sc.Definition(),
			SchemaName:     sc.Name,
			OrderSensitive: q.OrderSensitive,
		}, nil
	}

	if f.schemaFile == "" {
		return service.Submission{}, errors.New("pass --exercise or --schema-file")
	}
	data, err := os.ReadFile(f.schemaFile)
	if err != nil {
		return service.Submission{}, fmt.Errorf("reading schema file: %w", err)
	}
	def, err := domain.DecodeSchemaDefinition(data)
	if err != nil {
		return service.Submission{}, err
	}
	return service.Submission{
		StudentSQL:     student,
		ReferenceSQL:   f.referenceSQL,
		Schema:         def,
		SchemaName:     f.schemaName,
		OrderSensitive: f.ordered,
	}, nil
}

func (f *submissionFlags) print(w io.Writer, v *domain.Verdict) error {
	if f.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return err
		}
	} else if err := report.Verdict(w, v); err != nil {
		return err
	}
	if !v.IsCorrect() {
		return errIncorrect
	}
	return nil
}

func newGradeCmd(flags *overrideFlags) *cobra.Command {
	var sf submissionFlags
	cmd := &cobra.Command{
		Use:   "grade [student-sql]",
		Short: "Grade one answer against an exercise or a reference query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			student, err := sf.studentSQL(cmd, args)
			if err != nil {
				return err
			}
			if sf.exerciseID == "" && strings.TrimSpace(sf.referenceSQL) == "" {
				return errors.New("pass --exercise or --reference-sql")
			}

			cfg, logger, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			sub, err := sf.submission(a.exercises, student)
			if err != nil {
				return err
			}
			v, err := a.grader.Validate(service.WithToolName(ctx, "cli.grade"), sub)
			if err != nil {
				return err
			}
			return sf.print(cmd.OutOrStdout(), v)
		},
	}
	sf.register(cmd, true)
	return cmd
}

func newCheckCmd(flags *overrideFlags) *cobra.Command {
	var sf submissionFlags
	cmd := &cobra.Command{
		Use:   "check [student-sql]",
		Short: "Check an answer's syntax and references without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			student, err := sf.studentSQL(cmd, args)
			if err != nil {
				return err
			}

			// No database is involved, so only the exercise set is resolved.
			path := os.Getenv("EXERCISES_FILE")
			if cmd.Flags().Changed("exercises") {
				path = flags.exercises
			}
			var set *exercise.Set
			if path != "" {
				if set, err = exercise.LoadFromFile(path); err != nil {
					return err
				}
			}

			sub, err := sf.submission(set, student)
			if err != nil {
				return err
			}
			logger := newLogger(slog.LevelWarn)
			grader := service.NewGradingService(nil, nil, logger, nil, nil, service.Options{})
			v, err := grader.Check(cmd.Context(), sub.StudentSQL, sub.Schema, sub.SchemaName)
			if err != nil {
				return err
			}
			return sf.print(cmd.OutOrStdout(), v)
		},
	}
	sf.register(cmd, false)
	return cmd
}
