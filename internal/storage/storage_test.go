package storage_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/storage"
	"github.com/ashita-ai/council/internal/testutil"
	"github.com/ashita-ai/council/migrations"
)

func newSQLiteDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "data", "council.db"), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	return db
}

func sampleSession(id string, created time.Time) model.Session {
	return model.Session{
		ID:     id,
		Status: model.StatusRunning,
		Config: model.SessionConfig{
			Template:      "quick",
			Rounds:        []model.Round{{Name: "Pitch", DurationSeconds: 180, Prompt: "Pitch it"}},
			ContextPrompt: "Pick a database",
			Roles:         []string{"alpha"},
		},
		Agents: map[string]model.AgentInstance{
			"alpha": {Role: "alpha", ModelTier: "opus", Status: model.AgentIdle, Persona: model.Persona{Role: "alpha", Name: "Alpha"}},
		},
		CurrentRound: 0,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestOpen_CreatesDirAndDialect(t *testing.T) {
	db := newSQLiteDB(t)
	assert.Equal(t, storage.DialectSQLite, db.Dialect())
	assert.NoError(t, db.Ping(context.Background()))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := newSQLiteDB(t)
	assert.NoError(t, db.RunMigrations(context.Background(), migrations.FS))
}

func TestSaveAndLoadSession(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	s := sampleSession("s1", created)
	require.NoError(t, db.SaveSession(ctx, s))

	msgs := []model.Message{
		{ID: "m1", Timestamp: created.Add(time.Second), Author: model.SystemAuthor, Content: "Round 1 of 1: Pitch", IsSystemMessage: true},
		{ID: "m2", Timestamp: created.Add(2 * time.Second), Author: "alpha", Content: "Hello"},
		{ID: "m3", Timestamp: created.Add(3 * time.Second), Author: model.HumanAuthor, Content: "Why?", ReplyTo: "m2"},
	}
	for i, m := range msgs {
		require.NoError(t, db.AppendMessage(ctx, "s1", i+1, m))
	}
	// Re-delivery of a position is ignored.
	require.NoError(t, db.AppendMessage(ctx, "s1", 2, model.Message{ID: "dup", Timestamp: created, Author: "alpha", Content: "dup"}))

	s.Status = model.StatusCompleted
	s.CurrentRound = 1
	s.UpdatedAt = created.Add(time.Minute)
	s.Output = &model.SessionOutput{Summary: "done", RoundsCompleted: 1, MessageCount: 3, Contributions: map[string]int{"alpha": 1}, CompletedAt: s.UpdatedAt}
	require.NoError(t, db.SaveSession(ctx, s))

	got, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.CurrentRound)
	assert.Equal(t, s.Config, got.Config)
	assert.Equal(t, "Alpha", got.Agents["alpha"].Persona.Name)
	require.NotNil(t, got.Output)
	assert.Equal(t, "done", got.Output.Summary)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(s.UpdatedAt))

	require.Len(t, got.Messages, 3)
	for i, m := range got.Messages {
		assert.Equal(t, msgs[i].ID, m.ID)
		assert.Equal(t, msgs[i].Content, m.Content)
		assert.Equal(t, msgs[i].ReplyTo, m.ReplyTo)
		assert.Equal(t, msgs[i].IsSystemMessage, m.IsSystemMessage)
		assert.True(t, m.Timestamp.Equal(msgs[i].Timestamp))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	db := newSQLiteDB(t)
	_, err := db.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoadSessions_OrderAndEmptyTranscript(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 3; i >= 1; i-- {
		require.NoError(t, db.SaveSession(ctx, sampleSession(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, db.AppendMessage(ctx, "s2", 1, model.Message{ID: "m", Timestamp: base, Author: "alpha", Content: "x"}))

	all, err := db.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.NotNil(t, all[0].Messages)
	assert.Empty(t, all[0].Messages)
	assert.Len(t, all[1].Messages, 1)
	assert.Nil(t, all[0].Output)
}

func TestPurgeCompletedBefore(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := sampleSession("old", base)
	old.Status = model.StatusCompleted
	require.NoError(t, db.SaveSession(ctx, old))
	require.NoError(t, db.AppendMessage(ctx, "old", 1, model.Message{ID: "m", Timestamp: base, Author: "alpha", Content: "x"}))

	live := sampleSession("live", base)
	require.NoError(t, db.SaveSession(ctx, live))

	recent := sampleSession("recent", base.Add(48*time.Hour))
	recent.Status = model.StatusCompleted
	require.NoError(t, db.SaveSession(ctx, recent))

	counts, err := db.PurgeCompletedBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, storage.PurgeCount{Sessions: 1, Messages: 1}, counts)

	_, err = db.GetSession(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = db.GetSession(ctx, "live")
	assert.NoError(t, err, "running sessions are never purged")
	_, err = db.GetSession(ctx, "recent")
	assert.NoError(t, err)
}
