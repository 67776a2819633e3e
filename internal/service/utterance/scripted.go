package utterance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// ScriptedGenerator produces deterministic utterances without any model.
// Used when no backend is configured and in tests.
type ScriptedGenerator struct {
	delay time.Duration

	mu    sync.Mutex
	turns map[string]int // session/role -> turns taken
}

// NewScriptedGenerator creates a scripted generator. delay simulates
// generation latency and may be zero.
func NewScriptedGenerator(delay time.Duration) *ScriptedGenerator {
	return &ScriptedGenerator{delay: delay, turns: make(map[string]int)}
}

// Generate returns a canned reply built from the persona and prompt.
func (g *ScriptedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.delay):
		}
	}

	g.mu.Lock()
	key := req.SessionID + "/" + req.Persona.Role
	n := g.turns[key]
	g.turns[key] = n + 1
	g.mu.Unlock()

	stance := "I want to look at this from my own angle."
	if len(req.Persona.Values) > 0 {
		stance = fmt.Sprintf("What matters most to me here is %s.", req.Persona.Values[n%len(req.Persona.Values)])
	}

	switch req.Kind {
	case KindWrapUp:
		return fmt.Sprintf("Wrapping up %s: %s", roundLabel(req.RoundName), stance), nil
	case KindResponse:
		if last := lastHumanMessage(req.Transcript); last != "" {
			return fmt.Sprintf("Responding to %q: %s", compactLine(last, 80), stance), nil
		}
		return "Noted. " + stance, nil
	case KindOpening:
		return fmt.Sprintf("Opening thoughts from %s. %s", req.Persona.DisplayName(), stance), nil
	default:
		return fmt.Sprintf("On %s: %s", roundLabel(req.RoundName), stance), nil
	}
}

// Summarize returns a digest of who spoke and how often.
func (g *ScriptedGenerator) Summarize(_ context.Context, req SummaryRequest) (string, error) {
	return Digest(req.Transcript, req.Names), nil
}

// Digest is a deterministic, model-free summary of a transcript.
func Digest(msgs []model.Message, names map[string]string) string {
	counts := make(map[string]int)
	var order []string
	for _, m := range msgs {
		if m.IsSystemMessage {
			continue
		}
		if _, seen := counts[m.Author]; !seen {
			order = append(order, m.Author)
		}
		counts[m.Author]++
	}
	if len(order) == 0 {
		return "The session ended without any contributions."
	}
	parts := make([]string, 0, len(order))
	for _, author := range order {
		name := author
		if n, ok := names[author]; ok && n != "" {
			name = n
		}
		parts = append(parts, fmt.Sprintf("%s (%d)", name, counts[author]))
	}
	return fmt.Sprintf("%d contributions from %s.", len(msgs)-countSystem(msgs), strings.Join(parts, ", "))
}

func countSystem(msgs []model.Message) int {
	n := 0
	for _, m := range msgs {
		if m.IsSystemMessage {
			n++
		}
	}
	return n
}

func lastHumanMessage(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Author == model.HumanAuthor {
			return msgs[i].Content
		}
	}
	return ""
}

func roundLabel(name string) string {
	if name == "" {
		return "the open discussion"
	}
	return name
}
