package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/persona"
	"github.com/ashita-ai/council/internal/service/council"
	"github.com/ashita-ai/council/internal/service/utterance"
)

type discard struct{}

func (discard) Publish(model.Event) {}

// newTestServer builds an MCP server around a real manager with scripted
// generation and the default personas.
func newTestServer(t *testing.T) (*Server, *council.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	personas, err := persona.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	_, err = personas.Seed(context.Background(), persona.Defaults())
	require.NoError(t, err)

	mgr := council.NewManager(council.ManagerConfig{
		Personas:  personas,
		Generator: utterance.NewScriptedGenerator(0),
		Publisher: discard{},
		Logger:    logger,
		Ticks:     council.IntervalTicks(time.Hour),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Close(ctx)
	})
	return New(mgr, personas, logger, "test"), mgr
}

// fakeClient is a minimal MCP client session carrying only an id.
type fakeClient struct{ id string }

func (fakeClient) Initialize() {}
func (fakeClient) Initialized() bool { return true }
func (fakeClient) NotificationChannel() chan<- mcplib.JSONRPCNotification { return nil }
func (c fakeClient) SessionID() string { return c.id }

func clientCtx(s *Server, id string) context.Context {
	return s.mcpServer.WithContext(context.Background(), fakeClient{id: id})
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{Params: mcplib.CallToolParams{Name: name, Arguments: args}}
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func decodeResult(t *testing.T, result *mcplib.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, resultText(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	return out
}
