package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashita-ai/council/internal/model"
)

const (
	maxCompactContent   = 400
	defaultMessageLimit = 20
)

// compactSession returns a minimal representation of a session for tool
// responses: the state an assistant acts on plus the most recent limit
// messages with long content truncated.
func compactSession(s model.Session, limit int) map[string]any {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	m := map[string]any{
		"id":            s.ID,
		"status":        s.Status,
		"free_for_all":  s.Config.FreeForAll,
		"current_round": s.CurrentRound,
		"total_rounds":  len(s.Config.Rounds),
		"message_count": len(s.Messages),
	}
	if s.Config.Template != "" {
		m["template"] = s.Config.Template
	}
	if s.CurrentRound < len(s.Config.Rounds) {
		m["round_name"] = s.Config.Rounds[s.CurrentRound].Name
	}
	if s.TimerState != nil {
		m["remaining_seconds"] = s.TimerState.Remaining
		if s.TimerState.Paused {
			m["paused_by"] = s.TimerState.PausedBy
		}
	}

	if len(s.Agents) > 0 {
		roles := make([]string, 0, len(s.Agents))
		for role := range s.Agents {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		agents := make([]map[string]any, 0, len(roles))
		for _, role := range roles {
			a := s.Agents[role]
			agents = append(agents, map[string]any{
				"role":   role,
				"name":   a.Persona.DisplayName(),
				"status": a.Status,
			})
		}
		m["agents"] = agents
	}

	msgs := s.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	compact := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		compact = append(compact, compactMessage(msg))
	}
	m["messages"] = compact

	if s.Output != nil {
		m["output"] = map[string]any{
			"summary":          s.Output.Summary,
			"ended_early":      s.Output.EndedEarly,
			"rounds_completed": s.Output.RoundsCompleted,
			"contributions":    s.Output.Contributions,
		}
	}
	return m
}

func compactMessage(msg model.Message) map[string]any {
	m := map[string]any{
		"id":      msg.ID,
		"author":  msg.Author,
		"round":   msg.Round,
		"content": truncate(msg.Content, maxCompactContent),
	}
	if msg.ReplyTo != "" {
		m["reply_to"] = msg.ReplyTo
	}
	return m
}

// renderTranscript formats the full transcript as plain text grouped by
// round, using persona display names where the author is a seated agent.
func renderTranscript(s model.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Council session %s (%s)\n", s.ID, s.Status)
	if s.Config.ContextPrompt != "" {
		fmt.Fprintf(&b, "Context: %s\n", s.Config.ContextPrompt)
	}

	round := -1
	for _, msg := range s.Messages {
		if msg.Round != round && !s.Config.FreeForAll {
			round = msg.Round
			name := fmt.Sprintf("Round %d", round+1)
			if round >= 0 && round < len(s.Config.Rounds) {
				name += ": " + s.Config.Rounds[round].Name
			}
			fmt.Fprintf(&b, "\n## %s\n", name)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.Timestamp.UTC().Format("15:04:05"), authorLabel(s, msg.Author), msg.Content)
	}

	if s.Output != nil && s.Output.Summary != "" {
		fmt.Fprintf(&b, "\n## Summary\n%s\n", s.Output.Summary)
	}
	return b.String()
}

func authorLabel(s model.Session, author string) string {
	if a, ok := s.Agents[author]; ok {
		return a.Persona.DisplayName()
	}
	return author
}

// truncate shortens s to at most maxLen runes, appending "..." when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
