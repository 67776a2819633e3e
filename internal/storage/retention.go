package storage

import (
	"context"
	"fmt"
	"time"
)

// PurgeCount holds row counts for a purge operation.
type PurgeCount struct {
	Sessions int64 `json:"sessions"`
	Messages int64 `json:"messages"`
}

// PurgeCompletedBefore deletes completed sessions last updated before cutoff,
// together with their transcripts, in one transaction. Sessions that are
// still configuring, running or paused are never touched.
func (db *DB) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (PurgeCount, error) {
	var counts PurgeCount
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("storage: begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(cutoff)
	res, err := tx.ExecContext(ctx, db.rebind(`
		DELETE FROM council_messages WHERE session_id IN (
			SELECT id FROM council_sessions WHERE status = 'completed' AND updated_at < ?
		)`), ts)
	if err != nil {
		return counts, fmt.Errorf("storage: purge messages: %w", err)
	}
	if counts.Messages, err = res.RowsAffected(); err != nil {
		return counts, fmt.Errorf("storage: purge messages: %w", err)
	}

	res, err = tx.ExecContext(ctx, db.rebind(
		`DELETE FROM council_sessions WHERE status = 'completed' AND updated_at < ?`), ts)
	if err != nil {
		return counts, fmt.Errorf("storage: purge sessions: %w", err)
	}
	if counts.Sessions, err = res.RowsAffected(); err != nil {
		return counts, fmt.Errorf("storage: purge sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PurgeCount{}, fmt.Errorf("storage: commit purge: %w", err)
	}
	if counts.Sessions > 0 {
		db.logger.Info("storage: purged completed sessions",
			"sessions", counts.Sessions, "messages", counts.Messages, "cutoff", cutoff)
	}
	return counts, nil
}
