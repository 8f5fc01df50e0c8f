package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/guillermoBallester/sqlgrader/internal/adapter/postgres"
	"github.com/guillermoBallester/sqlgrader/internal/config"
	"github.com/guillermoBallester/sqlgrader/internal/core/domain"
	"github.com/guillermoBallester/sqlgrader/internal/exercise"
	"github.com/guillermoBallester/sqlgrader/internal/report"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newQueryCmd(flags *overrideFlags) *cobra.Command {
	var schemaName string
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run one read-only SELECT against a schema and print the rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := domain.NewSanitizer().Parse(args[0]); err != nil {
				return err
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

			snap, err := a.executor.Open(ctx, schemaName)
			if err != nil {
				return err
			}
			defer func() { _ = snap.Close(ctx) }()

			res, err := snap.Query(ctx, args[0])
			if err != nil {
				return err
			}
			return report.Result(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&schemaName, "schema", "s", "", "schema the statement runs against")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func newSchemaCmd(flags *overrideFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "schema [name]",
		Short: "List schemas, or print one as an exercise schema definition",
		Long: "Without arguments, lists the schemas of the PostgreSQL database. With a\n" +
			"schema name, prints its tables in the exercise file format so it can be\n" +
			"pasted into an exercise set.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "yaml" && format != "json" {
				return fmt.Errorf("invalid --format %q: must be \"yaml\" or \"json\"", format)
			}
			cfg, logger, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.Backend != config.BackendPostgres {
				return errors.New("schema introspection needs the postgres backend")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(ctx) }()

			reader := postgres.NewSchemaReader(a.pool, cfg.Schemas)
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				names, err := reader.ListSchemas(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, strings.Join(names, "\n"))
				return err
			}

			def, err := reader.ReadSchema(ctx, args[0])
			if err != nil {
				return err
			}
			sc := exercise.FromDefinition(args[0], def)
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sc)
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(sc); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}
