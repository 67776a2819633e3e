//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/storage"
	"github.com/ashita-ai/council/internal/testutil"
)

func TestPostgresArchiveRoundTrip(t *testing.T) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	ctx := context.Background()
	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, storage.DialectPostgres, db.Dialect())

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := sampleSession("pg-1", created)
	require.NoError(t, db.SaveSession(ctx, s))
	require.NoError(t, db.AppendMessage(ctx, "pg-1", 1, model.Message{ID: "m1", Timestamp: created, Author: "alpha", Content: "hi"}))

	s.Status = model.StatusPaused
	require.NoError(t, db.SaveSession(ctx, s))

	all, err := db.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusPaused, all[0].Status)
	require.Len(t, all[0].Messages, 1)
	assert.Equal(t, "hi", all[0].Messages[0].Content)
}
