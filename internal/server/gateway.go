package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ashita-ai/council/internal/ctxutil"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/ratelimit"
	"github.com/ashita-ai/council/internal/service/council"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameBytes  = 64 * 1024
	commandTimeout = 15 * time.Second
)

// client is one realtime connection. Outbound frames are queued on send
// and written by the connection's write pump.
type client struct {
	id   string
	send chan []byte
	quit chan struct{}
	once sync.Once
}

func newClient(id string) *client {
	return &client{
		id:   id,
		send: make(chan []byte, sendBufferSize),
		quit: make(chan struct{}),
	}
}

// trySend queues frame without blocking. It reports false only when the
// buffer is full; frames for a closing connection are discarded.
func (c *client) trySend(frame []byte) bool {
	select {
	case <-c.quit:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// kick asks the write pump to close the connection.
func (c *client) kick() {
	c.once.Do(func() { close(c.quit) })
}

// GatewayConfig holds the collaborators a Gateway needs.
type GatewayConfig struct {
	Manager *council.Manager
	Hub     *Hub
	Logger  *slog.Logger

	// Limiter bounds commands per connection. Nil disables limiting.
	Limiter ratelimit.Limiter

	// AllowedOrigins lists browser origins permitted to connect. Empty
	// permits same-host origins only; "*" permits any.
	AllowedOrigins []string
}

// Gateway serves the realtime WebSocket endpoint. It decodes operator
// commands, forwards them to the session manager and replies to the
// sender; session events reach subscribers through the Hub.
type Gateway struct {
	mgr      *council.Manager
	hub      *Hub
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	g := &Gateway{
		mgr:     cfg.Manager,
		hub:     cfg.Hub,
		limiter: limiter,
		logger:  cfg.Logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return len(set) == 0 && strings.EqualFold(u.Host, r.Host)
	}
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		g.logger.Debug("gateway: upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := newClient(uuid.NewString())
	operator := ctxutil.OperatorFromContext(r.Context())
	g.logger.Info("gateway: connected", "conn_id", c.id, "operator", operator, "remote", r.RemoteAddr)

	// The request context ends with the handler; commands keep its values.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	done := make(chan struct{})
	go g.writePump(conn, c, done)

	g.readPump(ctx, conn, c, operator)

	cancel()
	g.hub.Drop(c)
	c.kick()
	<-done
	g.limiter.Forget(connKey(c))
	g.logger.Info("gateway: disconnected", "conn_id", c.id)
}

func connKey(c *client) string { return "conn:" + c.id }

func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, c *client, operator string) {
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("gateway: read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			g.replyError(c, "", model.ErrCodeInvalidInput, "commands must be JSON text frames")
			continue
		}

		allowed, err := g.limiter.Allow(ctx, connKey(c))
		if err != nil {
			g.logger.Warn("gateway: limiter error, allowing command", "conn_id", c.id, "error", err)
		} else if !allowed {
			g.replyError(c, requestIDOf(data), model.ErrCodeRateLimited, "too many commands")
			continue
		}

		g.dispatch(ctx, c, operator, data)
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, c *client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case frame := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.logger.Debug("gateway: write failed", "conn_id", c.id, "error", err)
				c.kick()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.kick()
				return
			}
		case <-c.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// dispatch applies one command. Panics are reported to the sender as an
// internal error and the connection stays open.
func (g *Gateway) dispatch(ctx context.Context, c *client, operator string, data []byte) {
	var cmd model.ClientCommand
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("gateway: panic in command",
				"conn_id", c.id, "type", cmd.Type, "panic", rec, "stack", string(debug.Stack()))
			g.replyError(c, cmd.RequestID, model.ErrCodeInternalError, "internal error")
		}
	}()

	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
		g.replyError(c, requestIDOf(data), model.ErrCodeInvalidInput, "malformed command")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := g.handle(ctx, c, operator, cmd); err != nil {
		g.replyErr(c, cmd, err)
	}
}

// inputError marks a command rejected before reaching the manager.
type inputError struct{ msg string }

func (e inputError) Error() string { return e.msg }

func (g *Gateway) handle(ctx context.Context, c *client, operator string, cmd model.ClientCommand) error {
	switch cmd.Type {
	case model.CommandCreate:
		var req model.CreateSessionRequest
		if len(cmd.Data) > 0 && string(cmd.Data) != "null" {
			if err := json.Unmarshal(cmd.Data, &req); err != nil {
				return inputError{"invalid create data: " + err.Error()}
			}
		}
		s, err := g.mgr.Create(ctx, req)
		if err != nil {
			return err
		}
		g.reply(c, model.CreatedEvent{SessionID: s.ID, Config: s.Config})
		return g.join(ctx, c, s.ID)

	case model.CommandSendMessage:
		var req model.SendMessageRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return inputError{"invalid send_message data: " + err.Error()}
		}
		_, err := g.mgr.SendMessage(ctx, req)
		return err

	case model.CommandListSessions:
		g.reply(c, model.ListEvent{Sessions: g.mgr.List(ctx)})
		return nil
	}

	id, err := model.DecodeSessionRef(cmd.Data)
	if err != nil {
		return inputError{err.Error()}
	}
	switch cmd.Type {
	case model.CommandJoin:
		return g.join(ctx, c, id)
	case model.CommandLeave:
		g.hub.Unsubscribe(id, c)
		return nil
	case model.CommandStart:
		return g.mgr.Start(ctx, id)
	case model.CommandPause:
		return g.mgr.Pause(ctx, id, operator)
	case model.CommandResume:
		return g.mgr.Resume(ctx, id)
	case model.CommandAdvance:
		return g.mgr.Advance(ctx, id)
	case model.CommandEnd:
		return g.mgr.End(ctx, id)
	default:
		return inputError{fmt.Sprintf("unknown command type %q", cmd.Type)}
	}
}

// join subscribes c to a session and queues a full snapshot. Both happen on
// the session actor, so every later event is queued after the snapshot.
// Joining an unknown id subscribes silently; the client hears nothing until
// a session with that id exists.
func (g *Gateway) join(ctx context.Context, c *client, sessionID string) error {
	err := g.mgr.Join(ctx, sessionID, func(snap model.Session) {
		g.hub.Subscribe(sessionID, c)
		g.reply(c, model.StateEvent{Session: snap})
	})
	if errors.Is(err, council.ErrSessionNotFound) {
		g.hub.Subscribe(sessionID, c)
		return nil
	}
	return err
}

func (g *Gateway) reply(c *client, p model.EventPayload) {
	frame, err := json.Marshal(model.NewEvent(p))
	if err != nil {
		g.logger.Error("gateway: marshal reply", "conn_id", c.id, "type", p.EventType(), "error", err)
		return
	}
	if !c.trySend(frame) {
		g.logger.Warn("gateway: client buffer full, disconnecting", "conn_id", c.id)
		g.hub.Drop(c)
		c.kick()
	}
}

func (g *Gateway) replyError(c *client, requestID, code, msg string) {
	g.reply(c, model.ErrorEvent{Error: msg, Code: code, RequestID: requestID})
}

func (g *Gateway) replyErr(c *client, cmd model.ClientCommand, err error) {
	var inErr inputError
	if errors.As(err, &inErr) {
		g.replyError(c, cmd.RequestID, model.ErrCodeInvalidInput, inErr.msg)
		return
	}
	code, _ := classify(err)
	if code == model.ErrCodeInternalError {
		g.logger.Error("gateway: command failed", "conn_id", c.id, "type", cmd.Type, "error", err)
	}
	g.replyError(c, cmd.RequestID, code, clientMessage(err, code))
}

// requestIDOf salvages a request id from a frame that failed full decoding.
func requestIDOf(data []byte) string {
	var probe struct {
		RequestID string `json:"requestId"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.RequestID
}
