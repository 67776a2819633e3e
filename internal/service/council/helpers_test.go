package council

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/service/utterance"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) ofType(typ model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range r.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// memPersonas is an in-memory PersonaStore.
type memPersonas struct {
	mu       sync.Mutex
	personas map[string]model.Persona
}

func newMemPersonas(roles ...string) *memPersonas {
	p := &memPersonas{personas: make(map[string]model.Persona)}
	for _, role := range roles {
		p.add(role)
	}
	return p
}

func (p *memPersonas) add(role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.personas[role] = model.Persona{
		Role:         role,
		Name:         "Agent " + role,
		Emoji:        "🤖",
		Model:        "sonnet",
		CoreIdentity: "Test persona " + role,
	}
}

func (p *memPersonas) Get(_ context.Context, role string) (model.Persona, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	persona, ok := p.personas[role]
	if !ok {
		return model.Persona{}, fmt.Errorf("persona %q not found", role)
	}
	return persona, nil
}

func (p *memPersonas) List(_ context.Context) ([]model.Persona, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Persona, 0, len(p.personas))
	for _, persona := range p.personas {
		out = append(out, persona)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

// manualTicks is a TickSource driven by the test.
type manualTicks struct {
	ch chan time.Time
}

func newManualTicks() *manualTicks {
	return &manualTicks{ch: make(chan time.Time)}
}

func (m *manualTicks) source() TickSource {
	return func() (<-chan time.Time, func()) {
		return m.ch, func() {}
	}
}

// tick delivers n ticks, each consumed by the session actor before the next.
func (m *manualTicks) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case m.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not consumed", i)
		}
	}
}

// gate is a Generator whose calls block until released.
type gate struct {
	calls   chan utterance.Request
	release chan error
}

func newGate() *gate {
	return &gate{calls: make(chan utterance.Request, 64), release: make(chan error)}
}

func (g *gate) Generate(ctx context.Context, req utterance.Request) (string, error) {
	g.calls <- req
	select {
	case err := <-g.release:
		if err != nil {
			return "", err
		}
		return req.Persona.Role + " speaks", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// next waits for the next generation call.
func (g *gate) next(t *testing.T) utterance.Request {
	t.Helper()
	select {
	case req := <-g.calls:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no generation call")
		return utterance.Request{}
	}
}

// finish releases the pending generation call with err.
func (g *gate) finish(t *testing.T, err error) {
	t.Helper()
	select {
	case g.release <- err:
	case <-time.After(2 * time.Second):
		t.Fatal("no generation waiting for release")
	}
}

func echoGenerator() utterance.Generator {
	return utterance.GeneratorFunc(func(_ context.Context, req utterance.Request) (string, error) {
		return req.Persona.Role + " speaks", nil
	})
}

type fixture struct {
	mgr      *Manager
	events   *recorder
	personas *memPersonas
	ticks    *manualTicks
}

func newFixture(t *testing.T, gen utterance.Generator, archive Archive) *fixture {
	t.Helper()
	f := &fixture{
		events:   &recorder{},
		personas: newMemPersonas("alpha", "beta", "gamma"),
		ticks:    newManualTicks(),
	}
	f.mgr = NewManager(ManagerConfig{
		Personas:  f.personas,
		Generator: gen,
		Publisher: f.events,
		Archive:   archive,
		Logger:    testLogger(),
		Ticks:     f.ticks.source(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.mgr.Close(ctx)
	})
	return f
}

func (f *fixture) create(t *testing.T, req model.CreateSessionRequest) string {
	t.Helper()
	s, err := f.mgr.Create(context.Background(), req)
	require.NoError(t, err)
	return s.ID
}

func (f *fixture) snapshot(t *testing.T, id string) model.Session {
	t.Helper()
	s, err := f.mgr.Snapshot(context.Background(), id)
	require.NoError(t, err)
	return s
}

// waitMessages waits until the session transcript holds at least n messages.
func (f *fixture) waitMessages(t *testing.T, id string, n int) model.Session {
	t.Helper()
	var snap model.Session
	require.Eventually(t, func() bool {
		snap = f.snapshot(t, id)
		return len(snap.Messages) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected at least %d messages", n)
	return snap
}

// registered returns the number of sessions in the manager's registry.
func registered(m *Manager) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// memArchive is an in-memory Archive.
type memArchive struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	messages map[string][]model.Message
	seqs     map[string][]int
}

func newMemArchive() *memArchive {
	return &memArchive{
		sessions: make(map[string]model.Session),
		messages: make(map[string][]model.Message),
		seqs:     make(map[string][]int),
	}
}

func (a *memArchive) SaveSession(_ context.Context, s model.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.ID] = s
	return nil
}

func (a *memArchive) AppendMessage(_ context.Context, sessionID string, seq int, msg model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[sessionID] = append(a.messages[sessionID], msg)
	a.seqs[sessionID] = append(a.seqs[sessionID], seq)
	return nil
}

func (a *memArchive) LoadSessions(_ context.Context) ([]model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Session, 0, len(a.sessions))
	for id, s := range a.sessions {
		s.Messages = append([]model.Message(nil), a.messages[id]...)
		out = append(out, s)
	}
	return out, nil
}

func (a *memArchive) session(id string) (model.Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	return s, ok
}

// stalledArchive blocks every write until release is closed.
type stalledArchive struct {
	release chan struct{}
}

func newStalledArchive() *stalledArchive {
	return &stalledArchive{release: make(chan struct{})}
}

func (a *stalledArchive) SaveSession(context.Context, model.Session) error {
	<-a.release
	return nil
}

func (a *stalledArchive) AppendMessage(context.Context, string, int, model.Message) error {
	<-a.release
	return nil
}

func (a *stalledArchive) LoadSessions(context.Context) ([]model.Session, error) {
	return nil, nil
}
