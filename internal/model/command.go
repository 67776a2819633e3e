package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CommandType names a client-to-server realtime command.
type CommandType string

const (
	CommandJoin         CommandType = "join"
	CommandLeave        CommandType = "leave"
	CommandCreate       CommandType = "create"
	CommandStart        CommandType = "start"
	CommandSendMessage  CommandType = "send_message"
	CommandPause        CommandType = "pause"
	CommandResume       CommandType = "resume"
	CommandAdvance      CommandType = "advance"
	CommandEnd          CommandType = "end"
	CommandListSessions CommandType = "list_sessions"
)

// ClientCommand is the wire envelope for every client-to-server frame.
type ClientCommand struct {
	Type      CommandType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CreateSessionRequest is the body of a create command.
type CreateSessionRequest struct {
	Template      string   `json:"template,omitempty"`
	CustomRounds  []Round  `json:"customRounds,omitempty"`
	ContextPrompt string   `json:"contextPrompt,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// SendMessageRequest is the body of a send_message command.
type SendMessageRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	ReplyTo   string `json:"replyTo,omitempty"`
}

// Validate checks the required send_message fields.
func (r SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("sessionId is required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if len(r.Content) > MaxContentLen {
		return fmt.Errorf("content exceeds maximum length of %d bytes", MaxContentLen)
	}
	return nil
}

// DecodeSessionRef extracts a session id from command data given either as
// a bare JSON string or as an object with a sessionId field.
func DecodeSessionRef(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("sessionId is required")
	}
	var id string
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", fmt.Errorf("invalid sessionId: %w", err)
		}
	} else {
		var ref struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return "", fmt.Errorf("invalid command data: %w", err)
		}
		id = ref.SessionID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sessionId is required")
	}
	return id, nil
}
