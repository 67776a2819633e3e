// Package utterance produces agent replies for council sessions.
//
// Defines the Generator interface consumed by the turn scheduler and the
// backends that implement it: a local Ollama server, any OpenAI-compatible
// API, and a deterministic scripted generator used offline and in tests.
// The interface allows swapping backends without changing the scheduler.
package utterance

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/council/internal/model"
)

// Kind distinguishes why a turn was scheduled. Backends may phrase the
// request differently but the contract is the same.
type Kind string

const (
	KindRound    Kind = "round"
	KindWrapUp   Kind = "wrap_up"
	KindResponse Kind = "response"
	KindOpening  Kind = "opening"
)

// Request is everything a backend needs to produce one agent utterance.
type Request struct {
	SessionID string
	Persona   model.Persona

	// Route is the backend model id resolved from the persona's display tier.
	// Empty means the backend default.
	Route string

	Kind          Kind
	Transcript    []model.Message
	Prompt        string
	RoundName     string
	ContextPrompt string

	// Names maps role ids to display names for transcript rendering.
	Names map[string]string
}

// SummaryRequest asks a backend to condense a finished session.
type SummaryRequest struct {
	SessionID     string
	ContextPrompt string
	Transcript    []model.Message
	Names         map[string]string
}

// Generator produces the next message text for one agent.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Summarizer is optionally implemented by generators that can also write
// the closing summary of a completed session.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ModelRouter maps persona display tiers ("opus", "sonnet", ...) to backend
// model ids. The display tier stays on the agent as a label; only the
// router decides which model is actually called.
type ModelRouter struct {
	routes   map[string]string
	fallback string
}

// NewModelRouter creates a router. fallback is used for tiers with no route.
func NewModelRouter(routes map[string]string, fallback string) *ModelRouter {
	m := make(map[string]string, len(routes))
	for k, v := range routes {
		m[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return &ModelRouter{routes: m, fallback: fallback}
}

// Resolve returns the backend model id for a display tier.
func (r *ModelRouter) Resolve(tier string) string {
	if r == nil {
		return ""
	}
	if route, ok := r.routes[strings.ToLower(strings.TrimSpace(tier))]; ok && route != "" {
		return route
	}
	return r.fallback
}

// ParseRoutes parses "tier=model,tier=model" into a route map.
func ParseRoutes(s string) (map[string]string, error) {
	routes := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tier, target, ok := strings.Cut(pair, "=")
		tier, target = strings.TrimSpace(tier), strings.TrimSpace(target)
		if !ok || tier == "" || target == "" {
			return nil, fmt.Errorf("utterance: invalid model route %q (want tier=model)", pair)
		}
		routes[strings.ToLower(tier)] = target
	}
	return routes, nil
}

// historyWindow bounds how many transcript messages are rendered into a
// prompt. Older context is dropped from the front.
const historyWindow = 40

// historyLineChars caps each rendered transcript line.
const historyLineChars = 1200

// ChatMessage is a backend-neutral chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages renders a request as a system + user chat exchange.
func BuildMessages(req Request) []ChatMessage {
	return []ChatMessage{
		{Role: "system", Content: systemPrompt(req.Persona)},
		{Role: "user", Content: userPrompt(req)},
	}
}

func systemPrompt(p model.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a member of a discussion council.\n", p.DisplayName())
	if p.CoreIdentity != "" {
		b.WriteString(strings.TrimSpace(p.CoreIdentity))
		b.WriteString("\n")
	}
	if len(p.Values) > 0 {
		b.WriteString("\nValues:\n")
		for _, v := range p.Values {
			fmt.Fprintf(&b, "- %s\n", v)
		}
	}
	if len(p.Guidelines) > 0 {
		b.WriteString("\nGuidelines:\n")
		for _, g := range p.Guidelines {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if p.SpeakingStyle != "" {
		fmt.Fprintf(&b, "\nSpeaking style: %s\n", p.SpeakingStyle)
	}
	b.WriteString("\nReply with your next contribution only, in plain text, without prefixing your name.")
	return b.String()
}

func userPrompt(req Request) string {
	parts := make([]string, 0, 12)
	if ctx := strings.TrimSpace(req.ContextPrompt); ctx != "" {
		parts = append(parts, "Discussion context:", ctx, "")
	}
	if req.RoundName != "" {
		parts = append(parts, "Current round: "+req.RoundName, "")
	}
	parts = append(parts, "Transcript so far:", renderTranscript(req.Transcript, req.Names), "")
	switch req.Kind {
	case KindWrapUp:
		parts = append(parts, "The round is almost over. "+strings.TrimSpace(req.Prompt))
	case KindResponse:
		parts = append(parts, "Respond to the latest message from the human operator.")
		if p := strings.TrimSpace(req.Prompt); p != "" {
			parts = append(parts, p)
		}
	default:
		parts = append(parts, strings.TrimSpace(req.Prompt))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func renderTranscript(msgs []model.Message, names map[string]string) string {
	start := 0
	if len(msgs) > historyWindow {
		start = len(msgs) - historyWindow
	}
	lines := make([]string, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		author := m.Author
		if n, ok := names[m.Author]; ok && n != "" {
			author = n
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", author, compactLine(m.Content, historyLineChars)))
	}
	if len(lines) == 0 {
		return "(no prior messages)"
	}
	return strings.Join(lines, "\n")
}

func compactLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// summaryMessages renders a summary request as a chat exchange.
func summaryMessages(req SummaryRequest) []ChatMessage {
	user := "Summarize the council discussion below in a short paragraph followed by the key conclusions as bullet points.\n"
	if ctx := strings.TrimSpace(req.ContextPrompt); ctx != "" {
		user += "\nDiscussion context:\n" + ctx + "\n"
	}
	user += "\nTranscript:\n" + renderTranscript(req.Transcript, req.Names)
	return []ChatMessage{
		{Role: "system", Content: "You are the neutral secretary of a discussion council."},
		{Role: "user", Content: user},
	}
}
