package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/auth"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/persona"
	"github.com/ashita-ai/council/internal/service/council"
	"github.com/ashita-ai/council/internal/service/utterance"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	srv      *Server
	mgr      *council.Manager
	hub      *Hub
	personas *persona.FileStore
}

// newFixture builds a server around a real manager with scripted
// generation and seeded personas. mutate may adjust the config before the
// server is constructed.
func newFixture(t *testing.T, mutate func(*ServerConfig)) *fixture {
	t.Helper()
	logger := testLogger()

	personas, err := persona.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	_, err = personas.Seed(context.Background(), persona.Defaults())
	require.NoError(t, err)

	hub := NewHub(logger)
	mgr := council.NewManager(council.ManagerConfig{
		Personas:  personas,
		Generator: utterance.NewScriptedGenerator(0),
		Publisher: hub,
		Logger:    logger,
		Ticks:     council.IntervalTicks(time.Hour),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Close(ctx)
	})

	cfg := ServerConfig{
		Manager:             mgr,
		Personas:            personas,
		Hub:                 hub,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{srv: New(cfg), mgr: mgr, hub: hub, personas: personas}
}

// withAuth enables operator auth with the given password.
func withAuth(t *testing.T, password string) func(*ServerConfig) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	cred, err := auth.ParseCredential(hash)
	require.NoError(t, err)
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	return func(cfg *ServerConfig) {
		cfg.JWTMgr = mgr
		cfg.Credential = cred
	}
}

type envelope struct {
	Data  json.RawMessage    `json:"data"`
	Error *model.ErrorDetail `json:"error"`
	Meta  model.ResponseMeta `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	require.Nil(t, env.Error, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, target))
}
