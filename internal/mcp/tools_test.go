package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
)

func TestCreateSessionTool(t *testing.T) {
	s, mgr := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleCreateSession(ctx, toolRequest("council_create_session", map[string]any{
		"template":       "quick",
		"context_prompt": "Should we rewrite the billing service?",
		"roles":          []any{"skeptic", "pragmatist"},
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)

	assert.Equal(t, string(model.StatusConfiguring), out["status"])
	assert.Equal(t, "quick", out["template"])
	assert.Equal(t, float64(3), out["total_rounds"])

	id, _ := out["id"].(string)
	snap, err := mgr.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"skeptic", "pragmatist"}, snap.Config.Roles)
	assert.Equal(t, "Should we rewrite the billing service?", snap.Config.ContextPrompt)
}

func TestCreateSessionToolStart(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleCreateSession(context.Background(), toolRequest("council_create_session", map[string]any{
		"template": "quick",
		"start":    true,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, string(model.StatusRunning), out["status"])
	assert.Equal(t, "Pitch", out["round_name"])
}

func TestCreateSessionToolUnknownTemplate(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleCreateSession(context.Background(), toolRequest("council_create_session", map[string]any{
		"template": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), model.ErrCodeNotFound)
}

func TestListAndGetSessionTools(t *testing.T) {
	s, mgr := newTestServer(t)
	ctx := context.Background()
	created, err := mgr.Create(ctx, model.CreateSessionRequest{Template: "quick"})
	require.NoError(t, err)

	result, err := s.handleListSessions(ctx, toolRequest("council_list_sessions", nil))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, float64(1), out["total"])

	result, err = s.handleGetSession(ctx, toolRequest("council_get_session", map[string]any{
		"session_id": created.ID,
	}))
	require.NoError(t, err)
	out = decodeResult(t, result)
	assert.Equal(t, created.ID, out["id"])
	assert.Equal(t, "Pitch", out["round_name"])

	result, err = s.handleGetSession(ctx, toolRequest("council_get_session", map[string]any{
		"session_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), model.ErrCodeNotFound)
}

func TestGetSessionToolRequiresSession(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleGetSession(context.Background(), toolRequest("council_get_session", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "session_id is required", resultText(t, result))
}

func TestToolsFallBackToFocusedSession(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := clientCtx(s, "client-1")

	result, err := s.handleCreateSession(ctx, toolRequest("council_create_session", map[string]any{
		"template": "quick",
	}))
	require.NoError(t, err)
	id := decodeResult(t, result)["id"].(string)

	result, err = s.handleControl(ctx, toolRequest("council_control", map[string]any{"action": "start"}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, id, out["id"])
	assert.Equal(t, string(model.StatusRunning), out["status"])

	result, err = s.handleSendMessage(ctx, toolRequest("council_send_message", map[string]any{
		"content": "What about the migration cost?",
	}))
	require.NoError(t, err)
	msg := decodeResult(t, result)
	assert.Equal(t, model.HumanAuthor, msg["author"])

	other := clientCtx(s, "client-2")
	result, err = s.handleSendMessage(other, toolRequest("council_send_message", map[string]any{
		"content": "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "focus is per client")
}

func TestControlTool(t *testing.T) {
	s, mgr := newTestServer(t)
	ctx := context.Background()
	created, err := mgr.Create(ctx, model.CreateSessionRequest{Template: "quick"})
	require.NoError(t, err)

	control := func(action string) (map[string]any, string, bool) {
		t.Helper()
		result, err := s.handleControl(ctx, toolRequest("council_control", map[string]any{
			"session_id": created.ID,
			"action":     action,
		}))
		require.NoError(t, err)
		if result.IsError {
			return nil, resultText(t, result), true
		}
		return decodeResult(t, result), "", false
	}

	_, msg, isErr := control("pause")
	require.True(t, isErr)
	assert.Contains(t, msg, model.ErrCodeInvalidState)

	out, _, isErr := control("start")
	require.False(t, isErr)
	assert.Equal(t, string(model.StatusRunning), out["status"])

	out, _, isErr = control("pause")
	require.False(t, isErr)
	assert.Equal(t, string(model.StatusPaused), out["status"])
	assert.Equal(t, "operator", out["paused_by"])

	_, msg, isErr = control("pause")
	require.True(t, isErr)
	assert.Contains(t, msg, model.ErrCodeNoOp)

	_, _, isErr = control("resume")
	require.False(t, isErr)

	out, _, isErr = control("advance")
	require.False(t, isErr)
	assert.Equal(t, float64(1), out["current_round"])

	out, _, isErr = control("end")
	require.False(t, isErr)
	assert.Equal(t, string(model.StatusCompleted), out["status"])
	assert.NotNil(t, out["output"])

	_, msg, isErr = control("dance")
	require.True(t, isErr)
	assert.Contains(t, msg, "action must be one of")
}

func TestSendMessageToolValidation(t *testing.T) {
	s, mgr := newTestServer(t)
	ctx := context.Background()
	created, err := mgr.Create(ctx, model.CreateSessionRequest{Template: "quick"})
	require.NoError(t, err)

	result, err := s.handleSendMessage(ctx, toolRequest("council_send_message", map[string]any{
		"session_id": created.ID,
	}))
	require.NoError(t, err)
	assert.Equal(t, "content is required", resultText(t, result))

	result, err = s.handleSendMessage(ctx, toolRequest("council_send_message", map[string]any{
		"session_id": created.ID,
		"content":    "too early",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), model.ErrCodeInvalidState)
}

func TestMissingSessionDropsFocus(t *testing.T) {
	s, _ := newTestServer(t)
	s.focus.Record("client-1", "gone")

	result, err := s.handleGetSession(clientCtx(s, "client-1"), toolRequest("council_get_session", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	_, ok := s.focus.Current("client-1")
	assert.False(t, ok)
}
