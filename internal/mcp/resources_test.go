package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
)

func readRequest(uri string) mcplib.ReadResourceRequest {
	return mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: uri}}
}

func resourceText(t *testing.T, contents []mcplib.ResourceContents) mcplib.TextResourceContents {
	t.Helper()
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	return text
}

func TestTemplatesResource(t *testing.T) {
	s, _ := newTestServer(t)
	contents, err := s.handleTemplates(context.Background(), readRequest(templatesURI))
	require.NoError(t, err)

	text := resourceText(t, contents)
	assert.Equal(t, "application/json", text.MIMEType)
	var templates []model.Template
	require.NoError(t, json.Unmarshal([]byte(text.Text), &templates))
	names := make([]string, 0, len(templates))
	for _, tpl := range templates {
		names = append(names, tpl.Name)
	}
	assert.Contains(t, names, "standard")
	assert.Contains(t, names, "quick")
}

func TestPersonasResource(t *testing.T) {
	s, _ := newTestServer(t)
	contents, err := s.handlePersonas(context.Background(), readRequest(personasURI))
	require.NoError(t, err)

	var personas []model.Persona
	require.NoError(t, json.Unmarshal([]byte(resourceText(t, contents).Text), &personas))
	assert.Len(t, personas, 3)
}

func TestTranscriptResource(t *testing.T) {
	s, mgr := newTestServer(t)
	ctx := context.Background()
	created, err := mgr.Create(ctx, model.CreateSessionRequest{
		Template:      "quick",
		ContextPrompt: "Pick a database",
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start(ctx, created.ID))
	_, err = mgr.SendMessage(ctx, model.SendMessageRequest{SessionID: created.ID, Content: "Postgres, obviously"})
	require.NoError(t, err)

	uri := "council://sessions/" + created.ID + "/transcript"
	contents, err := s.handleTranscript(ctx, readRequest(uri))
	require.NoError(t, err)

	text := resourceText(t, contents)
	assert.Equal(t, uri, text.URI)
	assert.Equal(t, "text/plain", text.MIMEType)
	assert.Contains(t, text.Text, "Context: Pick a database")
	assert.Contains(t, text.Text, "## Round 1: Pitch")
	assert.Contains(t, text.Text, "human: Postgres, obviously")

	_, err = s.handleTranscript(ctx, readRequest("council://sessions/missing/transcript"))
	assert.Error(t, err)
}

func TestTranscriptSessionID(t *testing.T) {
	tests := []struct {
		uri    string
		wantID string
		wantOK bool
	}{
		{"council://sessions/abc/transcript", "abc", true},
		{"council://sessions//transcript", "", false},
		{"council://sessions/transcript", "", false},
		{"council://sessions/a/b/transcript", "", false},
		{"council://templates", "", false},
	}
	for _, tt := range tests {
		id, ok := transcriptSessionID(tt.uri)
		assert.Equal(t, tt.wantOK, ok, tt.uri)
		assert.Equal(t, tt.wantID, id, tt.uri)
	}
}
