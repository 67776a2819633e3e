package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/council/internal/auth"
	"github.com/ashita-ai/council/internal/config"
	"github.com/ashita-ai/council/internal/mcp"
	"github.com/ashita-ai/council/internal/persona"
	"github.com/ashita-ai/council/internal/ratelimit"
	"github.com/ashita-ai/council/internal/server"
	"github.com/ashita-ai/council/internal/service/council"
	"github.com/ashita-ai/council/internal/service/utterance"
	"github.com/ashita-ai/council/internal/storage"
	"github.com/ashita-ai/council/internal/telemetry"
	"github.com/ashita-ai/council/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("COUNCIL_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("council starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the session archive. RunMigrations tracks applied files, so a
	// failure here is a real schema problem.
	db, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	personas, err := persona.NewFileStore(cfg.PersonaDir, logger)
	if err != nil {
		return fmt.Errorf("personas: %w", err)
	}
	if cfg.SeedPersonas {
		n, err := personas.Seed(ctx, persona.Defaults())
		if err != nil {
			return fmt.Errorf("seed personas: %w", err)
		}
		if n > 0 {
			logger.Info("personas: seeded defaults", "count", n, "dir", cfg.PersonaDir)
		}
	}

	templates := council.NewCatalog()
	if cfg.TemplatesPath != "" {
		n, err := templates.LoadTemplatesFile(cfg.TemplatesPath)
		if err != nil {
			return fmt.Errorf("templates: %w", err)
		}
		logger.Info("templates: loaded", "count", n, "path", cfg.TemplatesPath)
	}

	routes, err := utterance.ParseRoutes(cfg.ModelRoutes)
	if err != nil {
		return fmt.Errorf("model routes: %w", err)
	}
	generator := utterance.WithRetry(newGenerator(ctx, cfg, logger), utterance.RetryPolicy{
		MaxRetries: cfg.GenerationRetries,
		BaseDelay:  utterance.DefaultRetryPolicy.BaseDelay,
		MaxDelay:   utterance.DefaultRetryPolicy.MaxDelay,
	}, logger)

	var (
		jwtMgr     *auth.JWTManager
		credential *auth.OperatorCredential
	)
	if cfg.AuthEnabled() {
		credential, err = auth.ParseCredential(cfg.OperatorPasswordHash)
		if err != nil {
			return fmt.Errorf("COUNCIL_OPERATOR_PASSWORD_HASH: %w", err)
		}
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		logger.Info("operator auth: enabled")
	} else {
		logger.Warn("operator auth: disabled (no COUNCIL_OPERATOR_PASSWORD_HASH)")
	}

	hub := server.NewHub(logger)
	mgr := council.NewManager(council.ManagerConfig{
		Personas:       personas,
		Generator:      generator,
		Router:         utterance.NewModelRouter(routes, ""),
		Publisher:      hub,
		Templates:      templates,
		Logger:         logger,
		Archive:        db,
		Ticks:          council.IntervalTicks(cfg.TickInterval),
		DefaultRoles:   cfg.DefaultRoles,
		SummaryTimeout: cfg.SummaryTimeout,
	})
	restored, err := mgr.Restore(ctx)
	if err != nil {
		logger.Warn("session restore failed", "error", err)
	} else if restored > 0 {
		logger.Info("sessions restored from archive", "count", restored)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(mgr, personas, logger, version)

	srv := server.New(server.ServerConfig{
		Manager:             mgr,
		Personas:            personas,
		Hub:                 hub,
		Logger:              logger,
		Archive:             db,
		JWTMgr:              jwtMgr,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Credential:          credential,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AllowedOrigins:      cfg.AllowedOrigins,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.RetentionDays > 0 {
		g.Go(func() error {
			retentionLoop(gctx, mgr, db, logger, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.RetentionInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		// Graceful shutdown. Each phase gets its own timeout so early
		// completion doesn't steal budget from later phases.
		// Order: (1) stop accepting HTTP and WebSocket traffic, (2) stop
		// session actors and flush pending archive writes.
		slog.Info("council shutting down")

		httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := srv.Shutdown(httpCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		httpCancel()

		mgrCtx, mgrCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		mgr.Close(mgrCtx)
		mgrCancel()
		return nil
	})

	err = g.Wait()
	slog.Info("council stopped")
	return err
}

// newGenerator picks the utterance backend. "auto" prefers OpenAI when a
// key is configured, then a reachable Ollama, else the scripted generator.
func newGenerator(ctx context.Context, cfg config.Config, logger *slog.Logger) utterance.Generator {
	switch cfg.Generator {
	case config.GeneratorOpenAI:
		logger.Info("generator: openai", "model", cfg.OpenAIModel)
		return utterance.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.GenerationTimeout)

	case config.GeneratorOllama:
		logger.Info("generator: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return utterance.NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaModel, cfg.GenerationTimeout)

	case config.GeneratorScripted:
		logger.Info("generator: scripted", "delay", cfg.ScriptedDelay)
		return utterance.NewScriptedGenerator(cfg.ScriptedDelay)

	default:
		if cfg.OpenAIAPIKey != "" {
			logger.Info("generator: openai (auto-detected)", "model", cfg.OpenAIModel)
			return utterance.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.GenerationTimeout)
		}
		ollama := utterance.NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaModel, cfg.GenerationTimeout)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ollama.Ping(pingCtx); err == nil {
			logger.Info("generator: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
			return ollama
		}
		logger.Warn("no generation backend available, using scripted replies")
		return utterance.NewScriptedGenerator(cfg.ScriptedDelay)
	}
}

// retentionLoop drops completed sessions older than maxAge from memory and
// from the archive every interval.
func retentionLoop(ctx context.Context, mgr *council.Manager, db *storage.DB, logger *slog.Logger, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-maxAge)
			pruned := mgr.Prune(ctx, cutoff)
			counts, err := db.PurgeCompletedBefore(ctx, cutoff)
			if err != nil {
				logger.Warn("retention: purge failed", "error", err)
				continue
			}
			if pruned > 0 || counts.Sessions > 0 {
				logger.Info("retention: purged completed sessions",
					"in_memory", pruned,
					"archived", counts.Sessions,
					"messages", counts.Messages,
				)
			}
		}
	}
}
