package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/council/internal/auth"
	"github.com/ashita-ai/council/internal/ctxutil"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/persona"
	"github.com/ashita-ai/council/internal/service/council"
)

// SessionArchive is the read side of the session archive used by the HTTP
// API. *storage.DB satisfies it.
type SessionArchive interface {
	Ping(ctx context.Context) error
	GetSession(ctx context.Context, id string) (model.Session, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	mgr                 *council.Manager
	personas            *persona.FileStore
	archive             SessionArchive
	hub                 *Hub
	jwtMgr              *auth.JWTManager
	credential          *auth.OperatorCredential
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Archive, Hub, JWTMgr.
type HandlersDeps struct {
	Manager             *council.Manager
	Personas            *persona.FileStore
	Archive             SessionArchive
	Hub                 *Hub
	JWTMgr              *auth.JWTManager
	Credential          *auth.OperatorCredential
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		mgr:                 d.Manager,
		personas:            d.Personas,
		archive:             d.Archive,
		hub:                 d.Hub,
		jwtMgr:              d.JWTMgr,
		credential:          d.Credential,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

func (h *Handlers) authEnabled() bool {
	return h.jwtMgr != nil && h.credential != nil
}

// HandleLogin handles POST /auth/login.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.authEnabled() {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "operator auth is disabled")
		return
	}
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		operator = ctxutil.AnonymousOperator
	}
	if len(operator) > 64 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "operator must be at most 64 characters")
		return
	}

	if !h.credential.Verify(req.Password) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(operator)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("operator logged in", "operator", operator, "remote", r.RemoteAddr)
	writeJSON(w, r, http.StatusOK, model.LoginResponse{
		Token:     token,
		Operator:  operator,
		ExpiresAt: expiresAt,
	})
}

// HandleLogout handles POST /auth/logout. The presented token is revoked
// for the rest of its lifetime.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if claims := ctxutil.ClaimsFromContext(r.Context()); claims != nil && h.jwtMgr != nil {
		h.jwtMgr.Revoke(claims)
		h.logger.Info("operator logged out", "operator", claims.Operator)
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"logged_out": true})
}

// HandleListTemplates handles GET /templates.
func (h *Handlers) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.mgr.Templates().List())
}

// HandleCreateTemplate handles POST /templates.
func (h *Handlers) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t model.Template
	if err := decodeJSON(w, r, &t, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	t.Name = strings.TrimSpace(t.Name)
	saved, err := h.mgr.Templates().Register(t)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger.Info("template registered", "name", saved.Name, "rounds", len(saved.Rounds))
	writeJSON(w, r, http.StatusCreated, saved)
}

// HandleListPersonas handles GET /personas.
func (h *Handlers) HandleListPersonas(w http.ResponseWriter, r *http.Request) {
	list, err := h.personas.List(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list personas", err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// HandleGetPersona handles GET /personas/{role}.
func (h *Handlers) HandleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := h.personas.Get(r.Context(), r.PathValue("role"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandlePutPersonas handles PUT /personas. Every persona in the array is
// validated before any is written.
func (h *Handlers) HandlePutPersonas(w http.ResponseWriter, r *http.Request) {
	var list []model.Persona
	if err := decodeJSON(w, r, &list, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	saved, err := h.personas.PutAll(r.Context(), list)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, saved)
}

// HandlePutPersona handles PUT /personas/{role}. The role must already exist.
func (h *Handlers) HandlePutPersona(w http.ResponseWriter, r *http.Request) {
	var p model.Persona
	if err := decodeJSON(w, r, &p, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	saved, err := h.personas.Update(r.Context(), r.PathValue("role"), p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, saved)
}

// HandleListSessions handles GET /sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.mgr.List(r.Context()))
}

// HandleGetSession handles GET /sessions/{id}. Sessions no longer held in
// memory are read from the archive.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.mgr.Snapshot(r.Context(), id)
	if errors.Is(err, council.ErrSessionNotFound) && h.archive != nil {
		s, err = h.archive.GetSession(r.Context(), id)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	archiveStatus := "disabled"

	if h.archive != nil {
		archiveStatus = "connected"
		if err := h.archive.Ping(r.Context()); err != nil {
			archiveStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	active := 0
	for _, sum := range h.mgr.List(r.Context()) {
		if !sum.Status.Terminal() {
			active++
		}
	}
	subscribers := 0
	if h.hub != nil {
		subscribers = h.hub.Subscribers()
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:         status,
		Version:        h.version,
		Archive:        archiveStatus,
		ActiveSessions: active,
		Subscribers:    subscribers,
		Uptime:         int64(time.Since(h.startedAt).Seconds()),
	})
}

// writeDomainError maps a service error to its status and error code.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		h.writeInternalError(w, r, "request failed", err)
		return
	}
	writeError(w, r, status, code, clientMessage(err, code))
}

// writeInternalError logs err and writes a generic 500 response.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "path", r.URL.Path,
		"request_id", ctxutil.RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
