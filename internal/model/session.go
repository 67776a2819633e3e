package model

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a council session.
type SessionStatus string

const (
	StatusConfiguring SessionStatus = "configuring"
	StatusRunning     SessionStatus = "running"
	StatusPaused      SessionStatus = "paused"
	StatusCompleted   SessionStatus = "completed"
)

// Terminal reports whether no further commands may mutate a session in this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted
}

// AgentStatus is the live activity indicator of an agent within a session.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentTyping  AgentStatus = "typing"
	AgentWaiting AgentStatus = "waiting"
)

// Message authors that are not persona roles.
const (
	HumanAuthor  = "human"
	SystemAuthor = "system"
)

// Field length limits for operator supplied text.
const (
	MaxContentLen       = 16 * 1024
	MaxContextPromptLen = 8 * 1024
	MaxRoundPromptLen   = 4 * 1024
	MaxRoundNameLen     = 120
	MaxRounds           = 24
	MaxRoundDuration    = 4 * 60 * 60
)

// Round is one named, time-boxed phase of a discussion.
type Round struct {
	Name            string `json:"name" yaml:"name"`
	DurationSeconds int    `json:"durationSeconds" yaml:"durationSeconds"`
	Prompt          string `json:"prompt" yaml:"prompt"`
	WrapUpPrompt    string `json:"wrapUpPrompt,omitempty" yaml:"wrapUpPrompt,omitempty"`
	WrapUpSent      bool   `json:"wrapUpSent,omitempty" yaml:"-"`
}

// Validate checks the required round fields.
func (r Round) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MaxRoundNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxRoundNameLen)
	}
	if r.DurationSeconds <= 0 {
		return fmt.Errorf("durationSeconds must be positive")
	}
	if r.DurationSeconds > MaxRoundDuration {
		return fmt.Errorf("durationSeconds must be at most %d", MaxRoundDuration)
	}
	if r.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if len(r.Prompt) > MaxRoundPromptLen || len(r.WrapUpPrompt) > MaxRoundPromptLen {
		return fmt.Errorf("prompt exceeds maximum length of %d bytes", MaxRoundPromptLen)
	}
	return nil
}

// ValidateRounds validates every round and reports the first failing index.
func ValidateRounds(rounds []Round) error {
	if len(rounds) > MaxRounds {
		return fmt.Errorf("at most %d rounds are allowed", MaxRounds)
	}
	for i, r := range rounds {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rounds[%d]: %w", i, err)
		}
	}
	return nil
}

// SessionConfig is fixed when a session is created.
type SessionConfig struct {
	Template      string   `json:"template,omitempty"`
	Rounds        []Round  `json:"rounds"`
	FreeForAll    bool     `json:"freeForAll"`
	ContextPrompt string   `json:"contextPrompt,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// Validate checks that the config describes a runnable session.
func (c SessionConfig) Validate() error {
	if !c.FreeForAll && len(c.Rounds) == 0 {
		return fmt.Errorf("at least one round is required unless freeForAll is set")
	}
	if c.FreeForAll && len(c.Rounds) > 0 {
		return fmt.Errorf("freeForAll sessions cannot define rounds")
	}
	if err := ValidateRounds(c.Rounds); err != nil {
		return err
	}
	if len(c.ContextPrompt) > MaxContextPromptLen {
		return fmt.Errorf("contextPrompt exceeds maximum length of %d bytes", MaxContextPromptLen)
	}
	for i, role := range c.Roles {
		if err := ValidateRole(role); err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
	}
	return nil
}

// AgentInstance is a persona provisioned into a running session.
// ModelTier is a display label only; generator routing is resolved separately.
type AgentInstance struct {
	Role      string      `json:"role"`
	ModelTier string      `json:"model"`
	Persona   Persona     `json:"persona"`
	Status    AgentStatus `json:"status"`
}

// TimerState is the periodically broadcast snapshot of a round timer.
type TimerState struct {
	Remaining    int    `json:"remaining"`
	Paused       bool   `json:"paused"`
	PausedBy     string `json:"pausedBy,omitempty"`
	CurrentRound int    `json:"currentRound"`
	RoundName    string `json:"roundName"`
}

// Message is one immutable transcript entry.
type Message struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Author          string    `json:"author"`
	Content         string    `json:"content"`
	Round           int       `json:"round"`
	ReplyTo         string    `json:"replyTo,omitempty"`
	IsSystemMessage bool      `json:"isSystemMessage,omitempty"`
}

// SessionOutput is the closing summary of a completed session.
type SessionOutput struct {
	Summary         string         `json:"summary"`
	EndedEarly      bool           `json:"endedEarly"`
	RoundsCompleted int            `json:"roundsCompleted"`
	MessageCount    int            `json:"messageCount"`
	Contributions   map[string]int `json:"contributions"`
	CompletedAt     time.Time      `json:"completedAt"`
}

// Session is a point-in-time snapshot of a council session aggregate.
type Session struct {
	ID           string                   `json:"id"`
	Status       SessionStatus            `json:"status"`
	Config       SessionConfig            `json:"config"`
	Agents       map[string]AgentInstance `json:"agents"`
	CurrentRound int                      `json:"currentRound"`
	TimerState   *TimerState              `json:"timerState"`
	Messages     []Message                `json:"messages"`
	Output       *SessionOutput           `json:"output,omitempty"`
	CreatedAt    time.Time                `json:"createdAt"`
	UpdatedAt    time.Time                `json:"updatedAt"`
}

// Summary condenses a session for list views.
func (s Session) Summary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Status:       s.Status,
		Template:     s.Config.Template,
		FreeForAll:   s.Config.FreeForAll,
		CurrentRound: s.CurrentRound,
		TotalRounds:  len(s.Config.Rounds),
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// SessionSummary is the list-view projection of a session.
type SessionSummary struct {
	ID           string        `json:"id"`
	Status       SessionStatus `json:"status"`
	Template     string        `json:"template,omitempty"`
	FreeForAll   bool          `json:"freeForAll"`
	CurrentRound int           `json:"currentRound"`
	TotalRounds  int           `json:"totalRounds"`
	MessageCount int           `json:"messageCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Template is a named, reusable round layout.
type Template struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Rounds      []Round `json:"rounds" yaml:"rounds"`
	FreeForAll  bool    `json:"freeForAll" yaml:"freeForAll"`
}

// Validate checks a template submitted by an operator or loaded from disk.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.FreeForAll {
		if len(t.Rounds) > 0 {
			return fmt.Errorf("freeForAll templates cannot define rounds")
		}
		return nil
	}
	if len(t.Rounds) == 0 {
		return fmt.Errorf("rounds must contain at least one round")
	}
	return ValidateRounds(t.Rounds)
}
