package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	templatesURI        = "council://templates"
	personasURI         = "council://personas"
	transcriptURIPrefix = "council://sessions/"
	transcriptURISuffix = "/transcript"
)

func (s *Server) registerResources() {
	// council://templates: round layouts available to council_create_session.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			templatesURI,
			"Session Templates",
			mcplib.WithResourceDescription("Named round layouts that new sessions can be created from"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTemplates,
	)

	// council://personas: the persona library agents are provisioned from.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			personasURI,
			"Personas",
			mcplib.WithResourceDescription("Stored personas keyed by role"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePersonas,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"council://sessions/{id}/transcript",
			"Session Transcript",
			mcplib.WithTemplateDescription("Full plain-text transcript of a session, grouped by round"),
			mcplib.WithTemplateMIMEType("text/plain"),
		),
		s.handleTranscript,
	)
}

func (s *Server) handleTemplates(_ context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.mgr.Templates().List(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal templates: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: templatesURI, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) handlePersonas(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	personas, err := s.personas.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list personas: %w", err)
	}
	data, err := json.MarshalIndent(personas, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal personas: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: personasURI, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) handleTranscript(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, ok := transcriptSessionID(uri)
	if !ok {
		return nil, fmt.Errorf("mcp: invalid transcript URI: %s", uri)
	}

	snap, err := s.mgr.Snapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: transcript %s: %w", id, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: "text/plain", Text: renderTranscript(snap)},
	}, nil
}

// transcriptSessionID extracts {id} from council://sessions/{id}/transcript.
func transcriptSessionID(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, transcriptURIPrefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, transcriptURISuffix)
	if !ok {
		return "", false
	}
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
