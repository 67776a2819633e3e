package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/council/internal/auth"
	"github.com/ashita-ai/council/internal/ctxutil"
	"github.com/ashita-ai/council/internal/persona"
	"github.com/ashita-ai/council/internal/ratelimit"
	"github.com/ashita-ai/council/internal/service/council"
)

// Server is the Council HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Archive, JWTMgr, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Manager  *council.Manager
	Personas *persona.FileStore
	Hub      *Hub
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Archive   SessionArchive
	JWTMgr    *auth.JWTManager // Operator auth is enabled when set together with Credential.
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	Credential *auth.OperatorCredential

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	AllowedOrigins      []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	if cfg.Credential == nil {
		cfg.JWTMgr = nil
	}
	h := NewHandlers(HandlersDeps{
		Manager:             cfg.Manager,
		Personas:            cfg.Personas,
		Archive:             cfg.Archive,
		Hub:                 cfg.Hub,
		JWTMgr:              cfg.JWTMgr,
		Credential:          cfg.Credential,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})
	gw := NewGateway(GatewayConfig{
		Manager:        cfg.Manager,
		Hub:            cfg.Hub,
		Logger:         cfg.Logger,
		Limiter:        cfg.Limiter,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}

	mux := http.NewServeMux()

	// Operator auth.
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/logout", h.HandleLogout)

	// Templates and personas.
	mux.HandleFunc("GET /templates", h.HandleListTemplates)
	mux.HandleFunc("POST /templates", h.HandleCreateTemplate)
	mux.HandleFunc("GET /personas", h.HandleListPersonas)
	mux.HandleFunc("PUT /personas", h.HandlePutPersonas)
	mux.HandleFunc("GET /personas/{role}", h.HandleGetPersona)
	mux.HandleFunc("PUT /personas/{role}", h.HandlePutPersona)

	// Read-only session views. Mutations go through the realtime gateway.
	mux.HandleFunc("GET /sessions", h.HandleListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.HandleGetSession)

	// Realtime gateway (limited per connection, not per request).
	mux.Handle("GET /ws", gw)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → rate limit → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	if cfg.Limiter != nil {
		handler = ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)(handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server. Hijacked realtime
// connections are not tracked by net/http and close when the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
