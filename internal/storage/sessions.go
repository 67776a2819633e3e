package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SaveSession upserts a session header. The transcript is ignored; messages
// are stored one at a time by AppendMessage.
func (db *DB) SaveSession(ctx context.Context, s model.Session) error {
	config, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("storage: marshal config: %w", err)
	}
	agents := s.Agents
	if agents == nil {
		agents = map[string]model.AgentInstance{}
	}
	agentsJSON, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("storage: marshal agents: %w", err)
	}
	var output string
	if s.Output != nil {
		b, err := json.Marshal(s.Output)
		if err != nil {
			return fmt.Errorf("storage: marshal output: %w", err)
		}
		output = string(b)
	}

	query := db.rebind(`
		INSERT INTO council_sessions
			(id, status, template, current_round, config, agents, output, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			template = excluded.template,
			current_round = excluded.current_round,
			config = excluded.config,
			agents = excluded.agents,
			output = excluded.output,
			updated_at = excluded.updated_at`)

	err = WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.conn.ExecContext(ctx, query,
			s.ID, string(s.Status), s.Config.Template, s.CurrentRound,
			string(config), string(agentsJSON), output,
			formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: save session %s: %w", s.ID, err)
	}
	return nil
}

// AppendMessage stores one transcript entry at its 1-based position.
// Re-appending an existing position is a no-op.
func (db *DB) AppendMessage(ctx context.Context, sessionID string, seq int, msg model.Message) error {
	isSystem := 0
	if msg.IsSystemMessage {
		isSystem = 1
	}
	query := db.rebind(`
		INSERT INTO council_messages
			(session_id, seq, id, author, content, round, reply_to, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO NOTHING`)

	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.conn.ExecContext(ctx, query,
			sessionID, seq, msg.ID, msg.Author, msg.Content, msg.Round,
			msg.ReplyTo, isSystem, formatTime(msg.Timestamp),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: append message %s#%d: %w", sessionID, seq, err)
	}
	return nil
}

// GetSession returns one archived session with its transcript.
func (db *DB) GetSession(ctx context.Context, id string) (model.Session, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT id, status, current_round, config, agents, output, created_at, updated_at
		FROM council_sessions WHERE id = ?`), id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: get session %s: %w", id, err)
	}

	msgs, err := db.loadMessages(ctx, `WHERE session_id = ?`, id)
	if err != nil {
		return model.Session{}, err
	}
	s.Messages = msgs[id]
	if s.Messages == nil {
		s.Messages = []model.Message{}
	}
	return s, nil
}

// LoadSessions returns every archived session with its transcript, oldest first.
func (db *DB) LoadSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, status, current_round, config, agents, output, created_at, updated_at
		FROM council_sessions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: load sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: load sessions: %w", err)
	}

	msgs, err := db.loadMessages(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Messages = msgs[sessions[i].ID]
		if sessions[i].Messages == nil {
			sessions[i].Messages = []model.Message{}
		}
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var (
		s                    model.Session
		status               string
		config, agents       string
		output               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &status, &s.CurrentRound, &config, &agents, &output, &createdAt, &updatedAt); err != nil {
		return model.Session{}, err
	}
	s.Status = model.SessionStatus(status)
	if err := json.Unmarshal([]byte(config), &s.Config); err != nil {
		return model.Session{}, fmt.Errorf("config: %w", err)
	}
	if err := json.Unmarshal([]byte(agents), &s.Agents); err != nil {
		return model.Session{}, fmt.Errorf("agents: %w", err)
	}
	if output != "" {
		s.Output = &model.SessionOutput{}
		if err := json.Unmarshal([]byte(output), s.Output); err != nil {
			return model.Session{}, fmt.Errorf("output: %w", err)
		}
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Session{}, fmt.Errorf("created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Session{}, fmt.Errorf("updated_at: %w", err)
	}
	return s, nil
}

// loadMessages groups transcripts by session id in seq order.
func (db *DB) loadMessages(ctx context.Context, where string, args ...any) (map[string][]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT session_id, id, author, content, round, reply_to, is_system, created_at
		FROM council_messages `+where+` ORDER BY session_id, seq`), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]model.Message)
	for rows.Next() {
		var (
			sessionID string
			m         model.Message
			isSystem  int
			createdAt string
		)
		if err := rows.Scan(&sessionID, &m.ID, &m.Author, &m.Content, &m.Round, &m.ReplyTo, &isSystem, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.IsSystemMessage = isSystem != 0
		if m.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("storage: message %s timestamp: %w", m.ID, err)
		}
		out[sessionID] = append(out[sessionID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: load messages: %w", err)
	}
	return out, nil
}
