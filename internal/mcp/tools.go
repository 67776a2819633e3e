package mcp

import (
	"context"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/council/internal/ctxutil"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/service/council"
)

const (
	actionStart   = "start"
	actionPause   = "pause"
	actionResume  = "resume"
	actionAdvance = "advance"
	actionEnd     = "end"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("council_list_sessions",
			mcplib.WithDescription(`List every council session this server is hosting, newest first.

Returns id, status, template, current round and message count for each
session. Use council_get_session to read one in detail.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleListSessions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("council_get_session",
			mcplib.WithDescription(`Read the current state of a council session: status, round, timer,
seated agents and the most recent messages (long messages are truncated).

If session_id is omitted, the session you last created or read is used.
For the complete transcript read the council://sessions/{id}/transcript resource.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("session_id",
				mcplib.Description("Session to read. Defaults to the session you last touched."),
			),
			mcplib.WithNumber("message_limit",
				mcplib.Description("How many recent messages to include (default 20)"),
				mcplib.Min(1),
				mcplib.Max(200),
			),
		),
		s.handleGetSession,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("council_create_session",
			mcplib.WithDescription(`Convene a new council session.

Pick a template (see the council://templates resource) or leave it empty
for the default round layout. The context prompt frames the discussion for
every agent. Roles choose which personas are seated (see council://personas).
Set start=true to begin the first round immediately.`),
			mcplib.WithString("template",
				mcplib.Description("Template name, e.g. standard, quick, freeForAll"),
			),
			mcplib.WithString("context_prompt",
				mcplib.Description("The question or situation the council should discuss"),
			),
			mcplib.WithArray("roles",
				mcplib.Description("Persona roles to seat; defaults to the configured roster"),
				mcplib.WithStringItems(),
			),
			mcplib.WithBoolean("start",
				mcplib.Description("Start the session right after creating it"),
			),
		),
		s.handleCreateSession,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("council_send_message",
			mcplib.WithDescription(`Post a message into a running council session as the human participant.
Agents respond on their next turns. Messages are rejected once the session
has completed.`),
			mcplib.WithString("session_id",
				mcplib.Description("Target session. Defaults to the session you last touched."),
			),
			mcplib.WithString("content",
				mcplib.Description("Message text"),
				mcplib.Required(),
			),
			mcplib.WithString("reply_to",
				mcplib.Description("Optional id of the message being answered"),
			),
		),
		s.handleSendMessage,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("council_control",
			mcplib.WithDescription(`Drive the session lifecycle: start a configured session, pause or resume
the round timer, advance to the next round early, or end the session and
produce its summary.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithString("session_id",
				mcplib.Description("Target session. Defaults to the session you last touched."),
			),
			mcplib.WithString("action",
				mcplib.Description("One of start, pause, resume, advance, end"),
				mcplib.Required(),
				mcplib.Enum(actionStart, actionPause, actionResume, actionAdvance, actionEnd),
			),
		),
		s.handleControl,
	)
}

// sessionArg resolves the session_id argument, falling back to the
// caller's focused session.
func (s *Server) sessionArg(ctx context.Context, request mcplib.CallToolRequest) (string, bool) {
	if id := request.GetString("session_id", ""); id != "" {
		return id, true
	}
	return s.focus.Current(clientKey(ctx))
}

func (s *Server) handleListSessions(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessions := s.mgr.List(ctx)
	return jsonResult(map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleGetSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, ok := s.sessionArg(ctx, request)
	if !ok {
		return errorResult("session_id is required"), nil
	}
	limit := request.GetInt("message_limit", defaultMessageLimit)
	if limit > 200 {
		limit = 200
	}

	snap, err := s.mgr.Snapshot(ctx, id)
	if err != nil {
		return s.commandError(id, "get_session", err), nil
	}
	s.focus.Record(clientKey(ctx), id)
	return jsonResult(compactSession(snap, limit))
}

func (s *Server) handleCreateSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.CreateSessionRequest{
		Template:      request.GetString("template", ""),
		ContextPrompt: request.GetString("context_prompt", ""),
		Roles:         request.GetStringSlice("roles", nil),
	}
	created, err := s.mgr.Create(ctx, req)
	if err != nil {
		return s.domainErrorResult("create_session", err), nil
	}
	s.focus.Record(clientKey(ctx), created.ID)
	s.logger.Info("mcp: session created",
		"session_id", created.ID,
		"template", created.Config.Template,
		"operator", ctxutil.OperatorFromContext(ctx))

	if request.GetBool("start", false) {
		if err := s.mgr.Start(ctx, created.ID); err != nil {
			return s.domainErrorResult("start", err), nil
		}
		if snap, err := s.mgr.Snapshot(ctx, created.ID); err == nil {
			created = snap
		}
	}
	return jsonResult(compactSession(created, defaultMessageLimit))
}

func (s *Server) handleSendMessage(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, ok := s.sessionArg(ctx, request)
	if !ok {
		return errorResult("session_id is required"), nil
	}
	content := request.GetString("content", "")
	if content == "" {
		return errorResult("content is required"), nil
	}

	msg, err := s.mgr.SendMessage(ctx, model.SendMessageRequest{
		SessionID: id,
		Content:   content,
		ReplyTo:   request.GetString("reply_to", ""),
	})
	if err != nil {
		return s.commandError(id, "send_message", err), nil
	}
	s.focus.Record(clientKey(ctx), id)
	return jsonResult(compactMessage(msg))
}

func (s *Server) handleControl(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, ok := s.sessionArg(ctx, request)
	if !ok {
		return errorResult("session_id is required"), nil
	}
	action := request.GetString("action", "")

	var err error
	switch action {
	case actionStart:
		err = s.mgr.Start(ctx, id)
	case actionPause:
		err = s.mgr.Pause(ctx, id, ctxutil.OperatorFromContext(ctx))
	case actionResume:
		err = s.mgr.Resume(ctx, id)
	case actionAdvance:
		err = s.mgr.Advance(ctx, id)
	case actionEnd:
		err = s.mgr.End(ctx, id)
	default:
		return errorResult("action must be one of start, pause, resume, advance, end"), nil
	}
	if err != nil {
		return s.commandError(id, action, err), nil
	}
	s.focus.Record(clientKey(ctx), id)

	snap, err := s.mgr.Snapshot(ctx, id)
	if err != nil {
		return s.commandError(id, action, err), nil
	}
	return jsonResult(compactSession(snap, 5))
}

// commandError drops a stale focus entry before classifying err.
func (s *Server) commandError(id, op string, err error) *mcplib.CallToolResult {
	if errors.Is(err, council.ErrSessionNotFound) {
		s.focus.Forget(id)
	}
	return s.domainErrorResult(op, err)
}
