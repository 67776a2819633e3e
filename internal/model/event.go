package model

// EventSchemaVersion is the version stamped on every server event.
const EventSchemaVersion = 1

// EventType names a server-to-client realtime event.
type EventType string

const (
	// Session lifecycle events.
	EventCreated     EventType = "created"
	EventState       EventType = "state"
	EventStatus      EventType = "status"
	EventAgentsReady EventType = "agents_ready"
	EventRound       EventType = "round"

	// High-frequency deltas.
	EventMessage EventType = "message"
	EventAgent   EventType = "agent"
	EventTimer   EventType = "timer"

	// Replies addressed to a single client.
	EventError EventType = "error"
	EventList  EventType = "list"
)

// EventPayload is the closed set of event bodies. Only types in this
// package implement it.
type EventPayload interface {
	EventType() EventType
	isEventPayload()
}

// Event is the wire envelope for every server-to-client frame.
type Event struct {
	Type    EventType    `json:"type"`
	Version int          `json:"version"`
	Data    EventPayload `json:"data"`
}

// NewEvent wraps a payload in a versioned envelope.
func NewEvent(p EventPayload) Event {
	return Event{Type: p.EventType(), Version: EventSchemaVersion, Data: p}
}

// SessionID returns the session the event belongs to, or "" for client replies.
func (e Event) SessionID() string {
	switch p := e.Data.(type) {
	case CreatedEvent:
		return p.SessionID
	case StateEvent:
		return p.Session.ID
	case StatusEvent:
		return p.SessionID
	case AgentsReadyEvent:
		return p.SessionID
	case RoundEvent:
		return p.SessionID
	case MessageEvent:
		return p.SessionID
	case AgentEvent:
		return p.SessionID
	case TimerEvent:
		return p.SessionID
	default:
		return ""
	}
}

// CreatedEvent acknowledges a create command.
type CreatedEvent struct {
	SessionID string        `json:"sessionId"`
	Config    SessionConfig `json:"config"`
}

// StateEvent carries a full session snapshot.
type StateEvent struct {
	Session Session `json:"session"`
}

// StatusEvent reports a status transition.
type StatusEvent struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
}

// AgentsReadyEvent reports the provisioned roster.
type AgentsReadyEvent struct {
	SessionID string          `json:"sessionId"`
	Agents    []AgentInstance `json:"agents"`
}

// RoundEvent reports that a round has opened.
type RoundEvent struct {
	SessionID   string `json:"sessionId"`
	RoundIndex  int    `json:"roundIndex"`
	Round       Round  `json:"round"`
	TotalRounds int    `json:"totalRounds"`
}

// MessageEvent reports an appended transcript message.
type MessageEvent struct {
	SessionID string  `json:"sessionId"`
	Message   Message `json:"message"`
}

// AgentEvent reports an agent status change.
type AgentEvent struct {
	SessionID string      `json:"sessionId"`
	Role      string      `json:"role"`
	Status    AgentStatus `json:"status"`
}

// TimerEvent carries the timer snapshot broadcast on every tick.
type TimerEvent struct {
	SessionID  string      `json:"sessionId"`
	TimerState *TimerState `json:"timerState"`
}

// ErrorEvent reports a rejected command to the client that sent it.
type ErrorEvent struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ListEvent answers list_sessions.
type ListEvent struct {
	Sessions []SessionSummary `json:"sessions"`
}

func (CreatedEvent) EventType() EventType     { return EventCreated }
func (StateEvent) EventType() EventType       { return EventState }
func (StatusEvent) EventType() EventType      { return EventStatus }
func (AgentsReadyEvent) EventType() EventType { return EventAgentsReady }
func (RoundEvent) EventType() EventType       { return EventRound }
func (MessageEvent) EventType() EventType     { return EventMessage }
func (AgentEvent) EventType() EventType       { return EventAgent }
func (TimerEvent) EventType() EventType       { return EventTimer }
func (ErrorEvent) EventType() EventType       { return EventError }
func (ListEvent) EventType() EventType        { return EventList }

func (CreatedEvent) isEventPayload()     {}
func (StateEvent) isEventPayload()       {}
func (StatusEvent) isEventPayload()      {}
func (AgentsReadyEvent) isEventPayload() {}
func (RoundEvent) isEventPayload()       {}
func (MessageEvent) isEventPayload()     {}
func (AgentEvent) isEventPayload()       {}
func (TimerEvent) isEventPayload()       {}
func (ErrorEvent) isEventPayload()       {}
func (ListEvent) isEventPayload()        {}
