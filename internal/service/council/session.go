package council

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/service/utterance"
)

// Publisher receives every event a session emits, in emission order.
// Publish must not block.
type Publisher interface {
	Publish(ev model.Event)
}

// PersonaStore provides persona definitions by role id.
type PersonaStore interface {
	Get(ctx context.Context, role string) (model.Persona, error)
	List(ctx context.Context) ([]model.Persona, error)
}

// mailboxSize bounds queued commands per session before senders block.
const mailboxSize = 64

// maxFailureDetail caps the error text quoted in a failure system message.
const maxFailureDetail = 200

type sessionDeps struct {
	personas       PersonaStore
	generator      utterance.Generator
	router         *utterance.ModelRouter
	publisher      Publisher
	archive        *archiver
	logger         *slog.Logger
	ticks          TickSource
	defaultRoles   []string
	now            func() time.Time
	metrics        *metrics
	summaryTimeout time.Duration
}

// session is the actor owning one council session aggregate. Every read and
// mutation of its state runs on the run goroutine: commands arrive as
// closures through the mailbox, timer ticks through tickC, and generation
// results are posted back through the mailbox.
type session struct {
	id      string
	deps    sessionDeps
	mailbox chan func()
	done    chan struct{}
	genCtx  context.Context
	stop    context.CancelFunc

	// Owned by the run goroutine.
	state      model.Session
	roster     []string
	wrapUpSent []bool
	timer      *RoundTimer
	tickC      <-chan time.Time
	stopTicks  func()
	queue      turnQueue
	lastStamp  time.Time
	seq        int
}

func newSession(state model.Session, deps sessionDeps) *session {
	s := &session{
		id:         state.ID,
		deps:       deps,
		mailbox:    make(chan func(), mailboxSize),
		done:       make(chan struct{}),
		state:      state,
		wrapUpSent: make([]bool, len(state.Config.Rounds)),
	}
	if s.state.Agents == nil {
		s.state.Agents = make(map[string]model.AgentInstance)
	}
	if s.state.Messages == nil {
		s.state.Messages = []model.Message{}
	}

	// Restored sessions carry live round flags inside the config snapshot.
	rounds := append([]model.Round(nil), s.state.Config.Rounds...)
	for i := range rounds {
		s.wrapUpSent[i] = rounds[i].WrapUpSent
		rounds[i].WrapUpSent = false
	}
	s.state.Config.Rounds = rounds
	s.state.TimerState = nil

	for role := range s.state.Agents {
		s.roster = append(s.roster, role)
	}
	sort.Strings(s.roster)
	if n := len(s.state.Messages); n > 0 {
		s.lastStamp = s.state.Messages[n-1].Timestamp
	}
	s.seq = len(s.state.Messages)
	return s
}

// run is the actor loop. It returns when ctx is cancelled.
func (s *session) run(ctx context.Context) {
	s.genCtx = ctx
	defer close(s.done)
	defer s.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.mailbox:
			s.exec(fn)
		case <-s.tickC:
			s.exec(s.onTick)
		}
	}
}

func (s *session) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.deps.logger.Error("council: panic in session actor",
				"session_id", s.id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// call runs fn on the actor and waits for its result.
func (s *session) call(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	op := func() {
		err := ErrInternal
		defer func() { errCh <- err }()
		err = fn()
	}
	select {
	case s.mailbox <- op:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		select {
		case err := <-errCh:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn without waiting. Used by generation goroutines.
func (s *session) post(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.done:
	}
}

// ---- commands ------------------------------------------------------------

func (s *session) start(ctx context.Context) error {
	switch s.state.Status {
	case model.StatusConfiguring:
	case model.StatusCompleted:
		return ErrSessionCompleted
	default:
		return fmt.Errorf("%w: session already started", ErrInvalidState)
	}
	if err := s.state.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	agents, roster, err := s.provision(ctx)
	if err != nil {
		return err
	}
	s.state.Agents = agents
	s.roster = roster
	s.state.Status = model.StatusRunning
	s.state.CurrentRound = 0
	s.touch()

	s.publish(model.AgentsReadyEvent{SessionID: s.id, Agents: s.agentList()})
	s.publish(model.StatusEvent{SessionID: s.id, Status: model.StatusRunning})

	if s.state.Config.FreeForAll {
		if cp := strings.TrimSpace(s.state.Config.ContextPrompt); cp != "" {
			s.queueTurns(roundTurns(s.roster, 0, utterance.KindOpening, cp))
		}
	} else {
		s.openRound(0)
	}
	s.persistSession()
	s.pump()
	return nil
}

func (s *session) pause(by string) error {
	switch s.state.Status {
	case model.StatusRunning:
	case model.StatusPaused:
		return fmt.Errorf("%w: session is already paused", ErrAlreadyInState)
	case model.StatusCompleted:
		return ErrSessionCompleted
	default:
		return fmt.Errorf("%w: cannot pause a %s session", ErrInvalidState, s.state.Status)
	}
	s.state.Status = model.StatusPaused
	if s.timer != nil {
		s.timer.Pause(by)
	}
	s.touch()
	s.publish(model.StatusEvent{SessionID: s.id, Status: model.StatusPaused})
	s.publishTimer()
	s.persistSession()
	return nil
}

func (s *session) resume() error {
	switch s.state.Status {
	case model.StatusPaused:
	case model.StatusRunning:
		return fmt.Errorf("%w: session is already running", ErrAlreadyInState)
	case model.StatusCompleted:
		return ErrSessionCompleted
	default:
		return fmt.Errorf("%w: cannot resume a %s session", ErrInvalidState, s.state.Status)
	}
	s.state.Status = model.StatusRunning
	if s.timer != nil {
		s.timer.Resume()
	}
	s.touch()
	s.publish(model.StatusEvent{SessionID: s.id, Status: model.StatusRunning})
	s.publishTimer()
	s.persistSession()
	s.pump()
	return nil
}

func (s *session) advance() error {
	switch s.state.Status {
	case model.StatusRunning:
	case model.StatusCompleted:
		return ErrSessionCompleted
	default:
		return fmt.Errorf("%w: cannot advance a %s session", ErrInvalidState, s.state.Status)
	}
	if s.state.Config.FreeForAll {
		return fmt.Errorf("%w: free-for-all sessions have no rounds", ErrInvalidState)
	}
	s.advanceRound()
	s.persistSession()
	s.pump()
	return nil
}

func (s *session) end() error {
	if s.state.Status == model.StatusCompleted {
		return ErrSessionCompleted
	}
	if s.state.Status != model.StatusConfiguring {
		s.appendSystem("The operator ended the session.", s.messageRound())
	}
	s.complete(true)
	return nil
}

func (s *session) sendMessage(req model.SendMessageRequest) (model.Message, error) {
	switch s.state.Status {
	case model.StatusRunning, model.StatusPaused:
	case model.StatusCompleted:
		return model.Message{}, ErrSessionCompleted
	default:
		if !s.state.Config.FreeForAll {
			return model.Message{}, fmt.Errorf("%w: session has not started", ErrInvalidState)
		}
	}
	if req.ReplyTo != "" && !s.hasMessage(req.ReplyTo) {
		return model.Message{}, fmt.Errorf("%w: replyTo %q is not a message in this session", ErrInvalidMessage, req.ReplyTo)
	}

	msg := s.appendMessage(model.HumanAuthor, req.Content, req.ReplyTo, s.messageRound(), false)
	if len(s.roster) > 0 && s.queue.idle() {
		s.queueTurns(roundTurns(s.roster, s.state.CurrentRound, utterance.KindResponse, ""))
	}
	s.pump()
	return msg, nil
}

// ---- rounds --------------------------------------------------------------

func (s *session) openRound(i int) {
	r := s.state.Config.Rounds[i]
	s.state.CurrentRound = i
	if s.timer == nil {
		s.timer = NewRoundTimer(r.DurationSeconds)
	} else {
		s.timer.Reset(r.DurationSeconds)
	}
	s.startTimer()
	s.touch()

	s.publish(model.RoundEvent{
		SessionID:   s.id,
		RoundIndex:  i,
		Round:       s.roundView(i),
		TotalRounds: len(s.state.Config.Rounds),
	})
	s.appendSystem(fmt.Sprintf("Round %d of %d: %s\n%s", i+1, len(s.state.Config.Rounds), r.Name, r.Prompt), i)
	s.publishTimer()
	s.queueTurns(roundTurns(s.roster, i, utterance.KindRound, r.Prompt))
}

func (s *session) advanceRound() {
	cur := s.state.CurrentRound
	r := s.state.Config.Rounds[cur]
	s.appendSystem(fmt.Sprintf("Round %d complete: %s", cur+1, r.Name), cur)

	if cur+1 >= len(s.state.Config.Rounds) {
		s.complete(false)
		return
	}
	for _, role := range s.queue.dropBefore(cur + 1) {
		s.settleAgent(role)
	}
	s.openRound(cur + 1)
}

func (s *session) wrapUp(i int) {
	s.wrapUpSent[i] = true
	prompt := s.state.Config.Rounds[i].WrapUpPrompt
	if prompt == "" {
		prompt = defaultWrapUp
	}
	s.appendSystem(prompt, i)
	s.queueTurns(roundTurns(s.roster, i, utterance.KindWrapUp, prompt))
}

func (s *session) onTick() {
	if s.timer == nil {
		return
	}
	res := s.timer.Tick()
	s.publishTimer()
	if s.state.Status != model.StatusRunning {
		return
	}
	cur := s.state.CurrentRound
	if res.WrapUp && !s.wrapUpSent[cur] {
		s.wrapUp(cur)
	}
	if res.Expired {
		s.advanceRound()
		s.persistSession()
	}
	s.pump()
}

// complete moves the session to its terminal state. Queued turns are
// dropped; an in-flight turn's result is discarded when it lands.
func (s *session) complete(endedEarly bool) {
	hadTimer := s.timer != nil
	s.stopTimer()
	s.timer = nil
	s.queue.clear()

	roundsCompleted := len(s.state.Config.Rounds)
	switch {
	case s.state.Config.FreeForAll || s.state.Status == model.StatusConfiguring:
		roundsCompleted = 0
	case endedEarly:
		roundsCompleted = s.state.CurrentRound
	}

	for _, role := range s.roster {
		s.setAgent(role, model.AgentIdle)
	}

	out := s.buildOutput(endedEarly, roundsCompleted)
	s.state.Output = &out
	s.state.Status = model.StatusCompleted
	s.state.CurrentRound = len(s.state.Config.Rounds)
	s.touch()

	s.publish(model.StatusEvent{SessionID: s.id, Status: model.StatusCompleted})
	if hadTimer {
		s.publish(model.TimerEvent{SessionID: s.id})
	}
	s.publish(model.StateEvent{Session: s.snapshot(true)})
	s.persistSession()
	s.deps.logger.Info("council: session completed",
		"session_id", s.id, "ended_early", endedEarly, "messages", len(s.state.Messages))
	s.summarize()
}

func (s *session) buildOutput(endedEarly bool, roundsCompleted int) model.SessionOutput {
	contributions := make(map[string]int)
	for _, m := range s.state.Messages {
		if !m.IsSystemMessage {
			contributions[m.Author]++
		}
	}
	return model.SessionOutput{
		Summary:         utterance.Digest(s.state.Messages, s.names()),
		EndedEarly:      endedEarly,
		RoundsCompleted: roundsCompleted,
		MessageCount:    len(s.state.Messages),
		Contributions:   contributions,
		CompletedAt:     s.deps.now().UTC(),
	}
}

// summarize replaces the digest with a generated summary when the backend
// supports it. The result lands asynchronously.
func (s *session) summarize() {
	sum, ok := s.deps.generator.(utterance.Summarizer)
	if !ok {
		return
	}
	req := utterance.SummaryRequest{
		SessionID:     s.id,
		ContextPrompt: s.state.Config.ContextPrompt,
		Transcript:    append([]model.Message(nil), s.state.Messages...),
		Names:         s.names(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.genCtx, s.deps.summaryTimeout)
		defer cancel()
		text, err := sum.Summarize(ctx, req)
		if err != nil {
			s.deps.logger.Warn("council: summary generation failed", "session_id", s.id, "error", err)
			return
		}
		s.post(func() {
			if s.state.Output == nil || strings.TrimSpace(text) == "" {
				return
			}
			s.state.Output.Summary = text
			s.touch()
			s.publish(model.StateEvent{Session: s.snapshot(true)})
			s.persistSession()
		})
	}()
}

// ---- turns ---------------------------------------------------------------

func (s *session) queueTurns(ts []turn) {
	s.queue.push(ts...)
	for _, t := range ts {
		if s.queue.inFlight != nil && s.queue.inFlight.role == t.role {
			continue
		}
		s.setAgent(t.role, model.AgentWaiting)
	}
}

// pump starts the next queued turn if the session is running and nothing
// is in flight.
func (s *session) pump() {
	if s.state.Status != model.StatusRunning {
		return
	}
	for {
		t, ok := s.queue.next()
		if !ok {
			return
		}
		if !s.state.Config.FreeForAll && t.round != s.state.CurrentRound {
			s.queue.finish()
			s.settleAgent(t.role)
			continue
		}
		s.dispatch(t)
		return
	}
}

func (s *session) dispatch(t turn) {
	agent := s.state.Agents[t.role]
	s.setAgent(t.role, model.AgentTyping)

	req := utterance.Request{
		SessionID:     s.id,
		Persona:       agent.Persona,
		Route:         s.deps.router.Resolve(agent.ModelTier),
		Kind:          t.kind,
		Transcript:    append([]model.Message(nil), s.state.Messages...),
		Prompt:        t.prompt,
		ContextPrompt: s.state.Config.ContextPrompt,
		Names:         s.names(),
	}
	if !s.state.Config.FreeForAll {
		req.RoundName = s.state.Config.Rounds[t.round].Name
	}

	gen := s.deps.generator
	go func() {
		began := time.Now()
		var (
			text string
			err  error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("generator panic: %v", r)
				}
			}()
			text, err = gen.Generate(s.genCtx, req)
		}()
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("empty reply")
		}
		elapsed := time.Since(began)
		s.post(func() { s.finishTurn(t, text, err, elapsed) })
	}()
}

func (s *session) finishTurn(t turn, text string, err error, elapsed time.Duration) {
	s.queue.finish()
	s.deps.metrics.turn(err, elapsed)

	if s.state.Status == model.StatusCompleted {
		s.deps.logger.Debug("council: discarding late utterance",
			"session_id", s.id, "role", t.role, "error", err)
		return
	}

	if err != nil {
		s.deps.logger.Warn("council: utterance generation failed",
			"session_id", s.id, "role", t.role, "round", t.round, "error", err)
		detail := err.Error()
		if len(detail) > maxFailureDetail {
			detail = detail[:maxFailureDetail] + "..."
		}
		s.appendSystem(fmt.Sprintf("%s could not respond: %s", s.displayName(t.role), detail), t.round)
	} else {
		s.appendMessage(t.role, strings.TrimSpace(text), "", t.round, false)
	}
	s.settleAgent(t.role)
	s.pump()
}

// settleAgent returns an agent to waiting if it has more queued turns,
// otherwise idle.
func (s *session) settleAgent(role string) {
	if s.queue.queued(role) {
		s.setAgent(role, model.AgentWaiting)
		return
	}
	s.setAgent(role, model.AgentIdle)
}

// ---- state helpers -------------------------------------------------------

func (s *session) provision(ctx context.Context) (map[string]model.AgentInstance, []string, error) {
	roles := s.state.Config.Roles
	if len(roles) == 0 {
		roles = s.deps.defaultRoles
	}

	var personas []model.Persona
	if len(roles) == 0 {
		all, err := s.deps.personas.List(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: list personas: %v", ErrPersonaMissing, err)
		}
		if len(all) == 0 {
			return nil, nil, fmt.Errorf("%w: no personas are defined", ErrPersonaMissing)
		}
		personas = all
	} else {
		seen := make(map[string]bool, len(roles))
		var missing []string
		for _, role := range roles {
			if seen[role] {
				continue
			}
			seen[role] = true
			p, err := s.deps.personas.Get(ctx, role)
			if err != nil {
				s.deps.logger.Warn("council: persona lookup failed", "session_id", s.id, "role", role, "error", err)
				missing = append(missing, role)
				continue
			}
			personas = append(personas, p)
		}
		if len(missing) > 0 {
			return nil, nil, fmt.Errorf("%w: %s", ErrPersonaMissing, strings.Join(missing, ", "))
		}
	}

	agents := make(map[string]model.AgentInstance, len(personas))
	roster := make([]string, 0, len(personas))
	for _, p := range personas {
		agents[p.Role] = model.AgentInstance{
			Role:      p.Role,
			ModelTier: p.Model,
			Persona:   p,
			Status:    model.AgentIdle,
		}
		roster = append(roster, p.Role)
	}
	return agents, roster, nil
}

func (s *session) appendSystem(content string, round int) {
	s.appendMessage(model.SystemAuthor, content, "", round, true)
}

// appendMessage is the only writer of the transcript.
func (s *session) appendMessage(author, content, replyTo string, round int, system bool) model.Message {
	if s.state.Status == model.StatusCompleted {
		s.deps.logger.Error("council: append to completed session refused", "session_id", s.id, "author", author)
		return model.Message{}
	}
	msg := model.Message{
		ID:              uuid.NewString(),
		Timestamp:       s.stamp(),
		Author:          author,
		Content:         content,
		Round:           round,
		ReplyTo:         replyTo,
		IsSystemMessage: system,
	}
	s.state.Messages = append(s.state.Messages, msg)
	s.state.UpdatedAt = msg.Timestamp
	s.publish(model.MessageEvent{SessionID: s.id, Message: msg})
	s.persistMessage(msg)
	return msg
}

// stamp returns a timestamp strictly after the previous message's.
func (s *session) stamp() time.Time {
	now := s.deps.now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *session) touch() {
	s.state.UpdatedAt = s.deps.now().UTC()
}

func (s *session) setAgent(role string, status model.AgentStatus) {
	a, ok := s.state.Agents[role]
	if !ok || a.Status == status {
		return
	}
	a.Status = status
	s.state.Agents[role] = a
	s.publish(model.AgentEvent{SessionID: s.id, Role: role, Status: status})
}

func (s *session) messageRound() int {
	if n := len(s.state.Config.Rounds); s.state.CurrentRound >= n && n > 0 {
		return n - 1
	}
	return s.state.CurrentRound
}

func (s *session) hasMessage(id string) bool {
	for _, m := range s.state.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (s *session) displayName(role string) string {
	if a, ok := s.state.Agents[role]; ok {
		return a.Persona.DisplayName()
	}
	return role
}

func (s *session) names() map[string]string {
	names := make(map[string]string, len(s.state.Agents))
	for role, a := range s.state.Agents {
		names[role] = a.Persona.DisplayName()
	}
	return names
}

func (s *session) agentList() []model.AgentInstance {
	out := make([]model.AgentInstance, 0, len(s.roster))
	for _, role := range s.roster {
		out = append(out, s.state.Agents[role])
	}
	return out
}

func (s *session) roundView(i int) model.Round {
	r := s.state.Config.Rounds[i]
	r.WrapUpSent = s.wrapUpSent[i]
	return r
}

// snapshot returns a deep copy of the aggregate safe to hand to other
// goroutines. Messages are omitted when withMessages is false.
func (s *session) snapshot(withMessages bool) model.Session {
	out := s.state
	out.Config.Rounds = make([]model.Round, len(s.state.Config.Rounds))
	for i := range out.Config.Rounds {
		out.Config.Rounds[i] = s.roundView(i)
	}
	out.Config.Roles = append([]string(nil), s.state.Config.Roles...)
	out.Agents = make(map[string]model.AgentInstance, len(s.state.Agents))
	for k, v := range s.state.Agents {
		out.Agents[k] = v
	}
	if withMessages {
		out.Messages = append(make([]model.Message, 0, len(s.state.Messages)), s.state.Messages...)
	} else {
		out.Messages = nil
	}
	out.TimerState = s.timerState()
	if s.state.Output != nil {
		o := *s.state.Output
		o.Contributions = make(map[string]int, len(s.state.Output.Contributions))
		for k, v := range s.state.Output.Contributions {
			o.Contributions[k] = v
		}
		out.Output = &o
	}
	return out
}

func (s *session) timerState() *model.TimerState {
	if s.timer == nil {
		return nil
	}
	return s.timer.Snapshot(s.state.CurrentRound, s.state.Config.Rounds[s.state.CurrentRound].Name)
}

func (s *session) publish(p model.EventPayload) {
	s.deps.publisher.Publish(model.NewEvent(p))
}

func (s *session) publishTimer() {
	if s.timer == nil {
		return
	}
	s.publish(model.TimerEvent{SessionID: s.id, TimerState: s.timerState()})
}

func (s *session) startTimer() {
	if s.stopTicks != nil {
		return
	}
	s.tickC, s.stopTicks = s.deps.ticks()
}

func (s *session) stopTimer() {
	if s.stopTicks != nil {
		s.stopTicks()
	}
	s.stopTicks = nil
	s.tickC = nil
}

func (s *session) persistSession() {
	if s.deps.archive == nil {
		return
	}
	s.deps.archive.saveSession(s.snapshot(false))
}

func (s *session) persistMessage(msg model.Message) {
	s.seq++
	if s.deps.archive == nil {
		return
	}
	s.deps.archive.appendMessage(s.id, s.seq, msg)
}
