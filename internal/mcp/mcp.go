// Package mcp implements the Model Context Protocol server for Council.
//
// The MCP server exposes session control through MCP tools and read-only
// views of templates, personas and transcripts through MCP resources, so
// MCP-compatible assistants can convene and steer a council the same way
// the realtime gateway does.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/persona"
	"github.com/ashita-ai/council/internal/service/council"
)

// focusWindow is how long a client's last-touched session is remembered
// for tools called without an explicit session_id.
const focusWindow = 2 * time.Hour

// PersonaLister is the read side of the persona library.
type PersonaLister interface {
	List(ctx context.Context) ([]model.Persona, error)
}

// Server wraps the MCP server with Council's session manager.
type Server struct {
	mcpServer *mcpserver.MCPServer
	mgr       *council.Manager
	personas  PersonaLister
	focus     *focusTracker
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, tools and prompts.
func New(mgr *council.Manager, personas PersonaLister, logger *slog.Logger, version string) *Server {
	s := &Server{
		mgr:      mgr,
		personas: personas,
		focus:    newFocusTracker(focusWindow),
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"council",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// clientKey identifies the calling MCP client session, or "" for
// transports without sessions.
func clientKey(ctx context.Context) string {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return session.SessionID()
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// domainErrorResult turns a manager error into a tool error carrying the
// same codes the gateway uses. Unexpected errors are logged and hidden.
func (s *Server) domainErrorResult(op string, err error) *mcplib.CallToolResult {
	var code string
	switch {
	case errors.Is(err, council.ErrSessionNotFound), errors.Is(err, council.ErrTemplateNotFound),
		errors.Is(err, persona.ErrNotFound):
		code = model.ErrCodeNotFound
	case errors.Is(err, council.ErrAlreadyInState):
		code = model.ErrCodeNoOp
	case errors.Is(err, council.ErrInvalidState):
		code = model.ErrCodeInvalidState
	case errors.Is(err, council.ErrInvalidConfig), errors.Is(err, council.ErrInvalidMessage):
		code = model.ErrCodeInvalidInput
	case errors.Is(err, council.ErrPersonaMissing):
		code = model.ErrCodeProvisioningFailed
	default:
		s.logger.Error("mcp: "+op+" failed", "error", err)
		return errorResult(model.ErrCodeInternalError + ": internal error")
	}
	msg := err.Error()
	for _, prefix := range []string{"council: ", "persona: "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return errorResult(code + ": " + msg)
}
