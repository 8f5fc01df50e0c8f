package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/guillermoBallester/sqlgrader/internal/adapter/mcp"
	"github.com/guillermoBallester/sqlgrader/internal/config"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the grading tools over MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting sqlgrader",
		slog.String("version", version),
		slog.String("backend", cfg.Backend),
		slog.String("transport", cfg.Transport),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.Int("max_rows", cfg.MaxRows),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.Bool("parallel", cfg.Parallel),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("shutdown", slog.String("error", err.Error()))
		}
	}()

	s := mcp.NewServer(version, a.grader, a.exercises, logger, a.tracer, a.inst)

	switch cfg.Transport {
	case config.TransportHTTP:
		httpSrv := mcpserver.NewStreamableHTTPServer(s, mcpserver.WithStateLess(true))

		mux := http.NewServeMux()
		mux.Handle("/mcp", bearerAuthMiddleware(httpSrv, cfg.HTTPBearerToken))
		mux.HandleFunc("/health", healthHandler)

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           recoveryMiddleware(mux, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("serving MCP over http", slog.String("addr", cfg.HTTPAddr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
		}
	default:
		logger.Info("serving MCP over stdio")
		if err := mcpserver.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			return fmt.Errorf("stdio server: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// bearerAuthMiddleware rejects requests without the configured bearer token.
func bearerAuthMiddleware(next http.Handler, token string) http.Handler {
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sqlgrader"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func recoveryMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("http handler panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
