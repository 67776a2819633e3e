// Package council orchestrates real-time, round-based multi-agent
// discussions.
//
// Each session is an actor: one goroutine owns the session aggregate and
// applies operator commands, round timer ticks and utterance results in
// arrival order. The Manager is the registry of session actors and the
// entry point used by transports.
package council

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/service/utterance"
)

// ManagerConfig holds the collaborators a Manager needs.
type ManagerConfig struct {
	Personas  PersonaStore
	Generator utterance.Generator
	Router    *utterance.ModelRouter
	Publisher Publisher
	Templates *Catalog
	Logger    *slog.Logger

	// Archive is optional. When nil, sessions live in memory only.
	Archive Archive

	// Ticks drives round timers. Defaults to one tick per second.
	Ticks TickSource

	// DefaultRoles is the roster used when a session names no roles.
	// Empty means every stored persona.
	DefaultRoles []string

	// Now overrides the clock used for timestamps.
	Now func() time.Time

	// SummaryTimeout bounds closing-summary generation.
	SummaryTimeout time.Duration
}

// Manager owns every session actor in the process.
type Manager struct {
	deps      sessionDeps
	templates *Catalog
	logger    *slog.Logger
	archiver  *archiver
	metrics   *metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// NewManager creates a manager. Call Close to stop every session.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Ticks == nil {
		cfg.Ticks = IntervalTicks(time.Second)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Templates == nil {
		cfg.Templates = NewCatalog()
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		templates: cfg.Templates,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
	m.metrics = newMetrics(m)
	if cfg.Archive != nil {
		m.archiver = newArchiver(cfg.Archive, cfg.Logger, m.metrics)
		m.archiver.start()
	}
	m.deps = sessionDeps{
		personas:       cfg.Personas,
		generator:      cfg.Generator,
		router:         cfg.Router,
		publisher:      cfg.Publisher,
		archive:        m.archiver,
		logger:         cfg.Logger,
		ticks:          cfg.Ticks,
		defaultRoles:   cfg.DefaultRoles,
		now:            cfg.Now,
		metrics:        m.metrics,
		summaryTimeout: cfg.SummaryTimeout,
	}
	return m
}

// Templates returns the catalog sessions are created from.
func (m *Manager) Templates() *Catalog { return m.templates }

// Create validates a session request and registers a new session in
// configuring status. An empty template name means "standard"; custom
// rounds take precedence over the template.
func (m *Manager) Create(ctx context.Context, req model.CreateSessionRequest) (model.Session, error) {
	cfg, err := m.resolveConfig(req)
	if err != nil {
		m.metrics.command(ctx, "create", err)
		return model.Session{}, err
	}

	now := m.deps.now().UTC()
	state := model.Session{
		ID:        uuid.NewString(),
		Status:    model.StatusConfiguring,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s := newSession(state, m.deps)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return model.Session{}, ErrClosed
	}
	m.spawnLocked(s)
	m.mu.Unlock()

	var snap model.Session
	err = s.call(ctx, func() error {
		s.persistSession()
		snap = s.snapshot(true)
		return nil
	})
	if err != nil {
		m.unregister(s)
		m.metrics.command(ctx, "create", err)
		return model.Session{}, err
	}
	m.metrics.command(ctx, "create", nil)
	m.metrics.created(ctx, cfg.Template)
	m.logger.Info("council: session created",
		"session_id", s.id, "template", cfg.Template, "rounds", len(cfg.Rounds), "free_for_all", cfg.FreeForAll)
	return snap, nil
}

func (m *Manager) resolveConfig(req model.CreateSessionRequest) (model.SessionConfig, error) {
	cfg := model.SessionConfig{
		ContextPrompt: strings.TrimSpace(req.ContextPrompt),
		Roles:         append([]string(nil), req.Roles...),
	}
	switch {
	case len(req.CustomRounds) > 0:
		cfg.Template = TemplateCustom
		cfg.Rounds = append([]model.Round(nil), req.CustomRounds...)
	default:
		name := req.Template
		if name == "" {
			name = TemplateStandard
		}
		t, err := m.templates.Get(name)
		if err != nil {
			return model.SessionConfig{}, err
		}
		cfg.Template = t.Name
		cfg.Rounds = t.Rounds
		cfg.FreeForAll = t.FreeForAll
	}
	for i := range cfg.Rounds {
		cfg.Rounds[i].WrapUpSent = false
	}
	if err := cfg.Validate(); err != nil {
		return model.SessionConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// Start provisions agents and opens the first round.
func (m *Manager) Start(ctx context.Context, id string) error {
	return m.command(ctx, "start", id, func(s *session) error { return s.start(ctx) })
}

// Pause freezes the round timer and halts new turns. by is recorded in
// the timer snapshot.
func (m *Manager) Pause(ctx context.Context, id, by string) error {
	return m.command(ctx, "pause", id, func(s *session) error { return s.pause(by) })
}

// Resume continues a paused session.
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.command(ctx, "resume", id, func(s *session) error { return s.resume() })
}

// Advance completes the current round and opens the next, or completes
// the session after the last round.
func (m *Manager) Advance(ctx context.Context, id string) error {
	return m.command(ctx, "advance", id, func(s *session) error { return s.advance() })
}

// End completes the session early.
func (m *Manager) End(ctx context.Context, id string) error {
	return m.command(ctx, "end", id, func(s *session) error { return s.end() })
}

// SendMessage appends a human message to the session transcript.
func (m *Manager) SendMessage(ctx context.Context, req model.SendMessageRequest) (model.Message, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := req.Validate(); err != nil {
		m.metrics.command(ctx, "send_message", err)
		return model.Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	var msg model.Message
	err := m.command(ctx, "send_message", req.SessionID, func(s *session) error {
		var err error
		msg, err = s.sendMessage(req)
		return err
	})
	return msg, err
}

// Snapshot returns the full current state of a session.
func (m *Manager) Snapshot(ctx context.Context, id string) (model.Session, error) {
	s, err := m.get(id)
	if err != nil {
		return model.Session{}, err
	}
	var snap model.Session
	err = s.call(ctx, func() error {
		snap = s.snapshot(true)
		return nil
	})
	return snap, err
}

// Join runs fn on the session actor with a full snapshot. Events emitted
// by the session after fn returns are ordered after the snapshot, so a
// subscriber registered inside fn misses nothing.
func (m *Manager) Join(ctx context.Context, id string, fn func(model.Session)) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.call(ctx, func() error {
		fn(s.snapshot(true))
		return nil
	})
}

// List returns a summary of every session, newest first.
func (m *Manager) List(ctx context.Context) []model.SessionSummary {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]model.SessionSummary, 0, len(all))
	for _, s := range all {
		var sum model.SessionSummary
		err := s.call(ctx, func() error {
			sum = s.state.Summary()
			return nil
		})
		if err != nil {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// activeCountTimeout bounds the gauge callback when session actors are slow.
const activeCountTimeout = 2 * time.Second

func (m *Manager) activeCount(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, activeCountTimeout)
	defer cancel()
	n := 0
	for _, sum := range m.List(ctx) {
		if !sum.Status.Terminal() {
			n++
		}
	}
	return n
}

// Restore loads archived sessions. Sessions that were still live when the
// process stopped cannot resume their timers or in-flight turns, so they
// are closed as ended early. Returns the number of sessions restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.archiver == nil {
		return 0, nil
	}
	archived, err := m.archiver.archive.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("council: restore sessions: %w", err)
	}

	restored := 0
	for _, state := range archived {
		interrupted := !state.Status.Terminal()
		if interrupted {
			state = m.closeInterrupted(state)
		}
		s := newSession(state, m.deps)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return restored, ErrClosed
		}
		if _, exists := m.sessions[s.id]; exists {
			m.mu.Unlock()
			continue
		}
		m.spawnLocked(s)
		m.mu.Unlock()

		if interrupted {
			_ = s.call(ctx, func() error {
				s.persistSession()
				return nil
			})
		}
		restored++
	}
	m.logger.Info("council: sessions restored", "count", restored)
	return restored, nil
}

func (m *Manager) closeInterrupted(state model.Session) model.Session {
	names := make(map[string]string, len(state.Agents))
	contributions := make(map[string]int)
	for role, a := range state.Agents {
		names[role] = a.Persona.DisplayName()
		a.Status = model.AgentIdle
		state.Agents[role] = a
	}
	for _, msg := range state.Messages {
		if !msg.IsSystemMessage {
			contributions[msg.Author]++
		}
	}
	roundsCompleted := state.CurrentRound
	if state.Config.FreeForAll || state.Status == model.StatusConfiguring {
		roundsCompleted = 0
	}
	now := m.deps.now().UTC()
	state.Output = &model.SessionOutput{
		Summary:         "Interrupted by a server restart. " + utterance.Digest(state.Messages, names),
		EndedEarly:      true,
		RoundsCompleted: roundsCompleted,
		MessageCount:    len(state.Messages),
		Contributions:   contributions,
		CompletedAt:     now,
	}
	state.Status = model.StatusCompleted
	state.CurrentRound = len(state.Config.Rounds)
	state.TimerState = nil
	state.UpdatedAt = now
	m.logger.Warn("council: closing interrupted session", "session_id", state.ID)
	return state
}

// Close stops every session actor and flushes pending archive writes.
// In-flight generations are cancelled.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("council: timed out waiting for session actors")
		return
	}
	if m.archiver != nil {
		m.archiver.drain(ctx)
	}
}

// Prune unregisters completed sessions last updated before cutoff and stops
// their actors. It returns the number of sessions removed.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) int {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	removed := 0
	for _, s := range all {
		var stale bool
		err := s.call(ctx, func() error {
			stale = s.state.Status == model.StatusCompleted && s.state.UpdatedAt.Before(cutoff)
			return nil
		})
		if err != nil || !stale {
			continue
		}
		m.mu.Lock()
		if cur, ok := m.sessions[s.id]; ok && cur == s {
			delete(m.sessions, s.id)
			s.stop()
			removed++
		}
		m.mu.Unlock()
	}
	if removed > 0 {
		m.logger.Info("council: pruned completed sessions", "count", removed, "cutoff", cutoff)
	}
	return removed
}

// spawnLocked registers s and starts its actor. Callers hold m.mu.
func (m *Manager) spawnLocked(s *session) {
	ctx, cancel := context.WithCancel(m.ctx)
	s.stop = cancel
	m.sessions[s.id] = s
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		s.run(ctx)
	}()
}

// unregister removes s from the registry and stops its actor.
func (m *Manager) unregister(s *session) {
	m.mu.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	s.stop()
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) command(ctx context.Context, name, id string, fn func(*session) error) error {
	s, err := m.get(id)
	if err == nil {
		err = s.call(ctx, func() error { return fn(s) })
	}
	m.metrics.command(ctx, name, err)
	if err != nil {
		m.logger.Debug("council: command rejected", "command", name, "session_id", id, "error", err)
	}
	return err
}
