package main

import (
	"fmt"
	"io"
	"time"

	"github.com/guillermoBallester/sqlgrader/internal/config"
	"github.com/spf13/pflag"
)

// overrideFlags holds the CLI flags that map onto config.Overrides.
type overrideFlags struct {
	backend         string
	databaseURL     string
	exercises       string
	logLevel        string
	maxRows         int
	queryTimeout    time.Duration
	parallel        bool
	transport       string
	httpAddr        string
	httpBearerToken string
	auditLog        string
	otel            bool

	poolMaxConns        int32
	poolMinConns        int32
	poolMaxConnLifetime time.Duration
}

func (f *overrideFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.backend, "backend", "", "execution backend: postgres or sqlite (env BACKEND)")
	fs.StringVar(&f.databaseURL, "database-url", "", "PostgreSQL connection string (env DATABASE_URL)")
	fs.StringVar(&f.exercises, "exercises", "", "YAML exercise set (env EXERCISES_FILE)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	fs.IntVar(&f.maxRows, "max-rows", 0, "row cap per statement (env MAX_ROWS)")
	fs.DurationVar(&f.queryTimeout, "query-timeout", 0, "time budget per validation (env QUERY_TIMEOUT)")
	fs.BoolVar(&f.parallel, "parallel", false, "run student and reference statements concurrently (env PARALLEL_EXECUTION)")
	fs.StringVar(&f.transport, "transport", "", "MCP transport: stdio or http (env TRANSPORT)")
	fs.StringVar(&f.httpAddr, "http-addr", "", "listen address for the http transport (env HTTP_ADDR)")
	fs.StringVar(&f.httpBearerToken, "http-bearer-token", "", "bearer token for the http transport (env HTTP_BEARER_TOKEN)")
	fs.StringVar(&f.auditLog, "audit-log", "", "append an NDJSON audit record per validation to this file (env AUDIT_LOG)")
	fs.BoolVar(&f.otel, "otel", false, "enable OpenTelemetry tracing and metrics (env OTEL_ENABLED)")
	fs.Int32Var(&f.poolMaxConns, "pool-max-conns", 0, "maximum pooled connections (env POOL_MAX_CONNS)")
	fs.Int32Var(&f.poolMinConns, "pool-min-conns", 0, "minimum pooled connections (env POOL_MIN_CONNS)")
	fs.DurationVar(&f.poolMaxConnLifetime, "pool-max-conn-lifetime", 0, "maximum connection lifetime (env POOL_MAX_CONN_LIFETIME)")
}

// overrides returns only the flags that were set explicitly.
func (f *overrideFlags) overrides(fs *pflag.FlagSet) config.Overrides {
	o := config.Overrides{OTelEnabled: f.otel}
	if fs.Changed("backend") {
		o.Backend = &f.backend
	}
	if fs.Changed("database-url") {
		o.DatabaseURL = &f.databaseURL
	}
	if fs.Changed("exercises") {
		o.ExercisesFile = &f.exercises
	}
	if fs.Changed("log-level") {
		o.LogLevel = &f.logLevel
	}
	if fs.Changed("max-rows") {
		o.MaxRows = &f.maxRows
	}
	if fs.Changed("query-timeout") {
		o.QueryTimeout = &f.queryTimeout
	}
	if fs.Changed("parallel") {
		o.Parallel = &f.parallel
	}
	if fs.Changed("transport") {
		o.Transport = &f.transport
	}
	if fs.Changed("http-addr") {
		o.HTTPAddr = &f.httpAddr
	}
	if fs.Changed("http-bearer-token") {
		o.HTTPBearerToken = &f.httpBearerToken
	}
	if fs.Changed("audit-log") {
		o.AuditLog = &f.auditLog
	}
	if fs.Changed("pool-max-conns") {
		o.PoolMaxConns = &f.poolMaxConns
	}
	if fs.Changed("pool-min-conns") {
		o.PoolMinConns = &f.poolMinConns
	}
	if fs.Changed("pool-max-conn-lifetime") {
		o.PoolMaxConnLifetime = &f.poolMaxConnLifetime
	}
	return o
}

// parseFlags parses args as the global flag set.
func parseFlags(args []string) (config.Overrides, error) {
	fs := pflag.NewFlagSet("sqlgrader", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var f overrideFlags
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, fmt.Errorf("parsing flags: %w", err)
	}
	return f.overrides(fs), nil
}
