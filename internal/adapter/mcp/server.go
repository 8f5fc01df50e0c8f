package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/sqlgrader/internal/core/port"
	"github.com/guillermoBallester/sqlgrader/internal/core/service"
	"github.com/guillermoBallester/sqlgrader/internal/exercise"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with the grading tools and logging hooks.
// exercises may be nil, in which case only the ad hoc tools are registered.
func NewServer(version string, grader *service.GradingService, exercises *exercise.Set, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, grader, exercises, logger)

	return s
}
