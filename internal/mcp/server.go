// Package mcp exposes the rowing session to agents over the Model Context
// Protocol.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(b Backend, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("coxswain", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("Coxswain rowing session server. Inspect the running session, manage the selected training program, start and stop sessions, and query recorded workouts."),
	)

	h := &handlers{b: b, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolGetSessionStatus, Handler: h.getSessionStatus},
		server.ServerTool{Tool: toolListPrograms, Handler: h.listPrograms},
		server.ServerTool{Tool: toolSelectProgram, Handler: h.selectProgram},
		server.ServerTool{Tool: toolDeselectProgram, Handler: h.deselectProgram},
		server.ServerTool{Tool: toolStartSession, Handler: h.startSession},
		server.ServerTool{Tool: toolStopSession, Handler: h.stopSession},
		server.ServerTool{Tool: toolGetWorkouts, Handler: h.getWorkouts},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resStatus, Handler: h.status},
		server.ServerResource{Resource: resPrograms, Handler: h.programs},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	b   Backend
	log *slog.Logger
}

// --- Resource definitions ---

var resStatus = mcp.NewResource(
	"coxswain://status",
	"Session Status",
	mcp.WithResourceDescription("State of the current rowing session: device, selected program, progress, latest measurement and limit deviations"),
	mcp.WithMIMEType("application/json"),
)

var resPrograms = mcp.NewResource(
	"coxswain://programs",
	"Training Programs",
	mcp.WithResourceDescription("All stored training programs with their segments"),
	mcp.WithMIMEType("application/json"),
)
