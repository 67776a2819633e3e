package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// convene walks the assistant through creating, starting and steering a session.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("convene",
			mcplib.WithPromptDescription("Convene a council on a topic and facilitate it round by round"),
			mcplib.WithArgument("topic",
				mcplib.ArgumentDescription("The question or decision the council should deliberate"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("template",
				mcplib.ArgumentDescription("Optional template name (see council://templates)"),
			),
		),
		s.handleConvenePrompt,
	)

	// recap asks for a recap of an existing session from its transcript.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("recap",
			mcplib.WithPromptDescription("Recap a council session from its transcript"),
			mcplib.WithArgument("session_id",
				mcplib.ArgumentDescription("Session to recap"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleRecapPrompt,
	)
}

func (s *Server) handleConvenePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	topic := request.Params.Arguments["topic"]
	if topic == "" {
		return nil, fmt.Errorf("topic argument is required")
	}
	template := request.Params.Arguments["template"]
	if template == "" {
		template = "standard"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Convene a council on: %s", topic),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Convene a council to deliberate this topic:

%s

1. CALL council_create_session with template="%s", context_prompt set to the
   topic above and start=true.

2. FOLLOW the discussion with council_get_session. Each round has a name and
   a time box; the agents take turns on their own.

3. STEER when useful: council_send_message adds your perspective as the human
   participant. council_control with action="advance" moves to the next round
   early, action="pause" holds the timer.

4. FINISH with council_control action="end", then read the summary from the
   session output or the council://sessions/{id}/transcript resource.`, topic, template),
				},
			},
		},
	}, nil
}

func (s *Server) handleRecapPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	id := request.Params.Arguments["session_id"]
	if id == "" {
		return nil, fmt.Errorf("session_id argument is required")
	}
	snap, err := s.mgr.Snapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: recap %s: %w", id, err)
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Recap of council session %s", id),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: "Recap this council session. List the main positions each participant took, " +
						"where they agreed, where they disagreed, and any open questions.\n\n" +
						renderTranscript(snap),
				},
			},
		},
	}, nil
}
