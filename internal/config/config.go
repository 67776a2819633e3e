// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Generator backends accepted by COUNCIL_GENERATOR.
const (
	GeneratorAuto     = "auto"
	GeneratorOllama   = "ollama"
	GeneratorOpenAI   = "openai"
	GeneratorScripted = "scripted"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	ShutdownTimeout     time.Duration
	MaxRequestBodyBytes int64
	AllowedOrigins      []string // WebSocket Origin allow-list; empty allows same-host only.

	// Archive settings.
	DatabaseURL       string // sqlite path (optionally sqlite://) or postgres:// URL.
	RetentionDays     int    // 0 keeps completed sessions forever.
	RetentionInterval time.Duration

	// Council settings.
	PersonaDir    string
	SeedPersonas  bool
	TemplatesPath string
	DefaultRoles  []string
	TickInterval  time.Duration

	// Utterance generation.
	Generator         string // "auto", "ollama", "openai", or "scripted"
	OllamaURL         string
	OllamaModel       string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	ModelRoutes       string // "tier=model,..." resolved by utterance.ParseRoutes.
	GenerationTimeout time.Duration
	GenerationRetries int
	ScriptedDelay     time.Duration
	SummaryTimeout    time.Duration

	// Operator auth. Auth is disabled when OperatorPasswordHash is empty.
	OperatorPasswordHash string
	JWTPrivateKeyPath    string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath     string // Path to Ed25519 public key PEM file.
	JWTExpiration        time.Duration

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cfg Config
	var err error

	cfg.Port, err = envInt("COUNCIL_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("COUNCIL_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("COUNCIL_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.ShutdownTimeout, err = envDuration("COUNCIL_SHUTDOWN_TIMEOUT", 15*time.Second)
	collect(err)
	maxBody, err := envInt("COUNCIL_MAX_REQUEST_BODY_BYTES", 1*1024*1024) // 1 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	cfg.AllowedOrigins = envList("COUNCIL_ALLOWED_ORIGINS")

	cfg.DatabaseURL = envStr("COUNCIL_DATABASE_URL", "sqlite://data/council.db")
	cfg.RetentionDays, err = envInt("COUNCIL_RETENTION_DAYS", 0)
	collect(err)
	cfg.RetentionInterval, err = envDuration("COUNCIL_RETENTION_INTERVAL", time.Hour)
	collect(err)

	cfg.PersonaDir = envStr("COUNCIL_PERSONA_DIR", "data/personas")
	cfg.SeedPersonas, err = envBool("COUNCIL_SEED_PERSONAS", true)
	collect(err)
	cfg.TemplatesPath = envStr("COUNCIL_TEMPLATES_PATH", "")
	cfg.DefaultRoles = envList("COUNCIL_DEFAULT_ROLES")
	cfg.TickInterval, err = envDuration("COUNCIL_TICK_INTERVAL", time.Second)
	collect(err)

	cfg.Generator = strings.ToLower(envStr("COUNCIL_GENERATOR", GeneratorAuto))
	cfg.OllamaURL = envStr("OLLAMA_URL", "http://localhost:11434")
	cfg.OllamaModel = envStr("OLLAMA_MODEL", "llama3.1")
	cfg.OpenAIAPIKey = envStr("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = envStr("OPENAI_BASE_URL", "")
	cfg.OpenAIModel = envStr("OPENAI_MODEL", "gpt-4o-mini")
	cfg.ModelRoutes = envStr("COUNCIL_MODEL_ROUTES", "")
	cfg.GenerationTimeout, err = envDuration("COUNCIL_GENERATION_TIMEOUT", 90*time.Second)
	collect(err)
	cfg.GenerationRetries, err = envInt("COUNCIL_GENERATION_RETRIES", 2)
	collect(err)
	cfg.ScriptedDelay, err = envDuration("COUNCIL_SCRIPTED_DELAY", 1500*time.Millisecond)
	collect(err)
	cfg.SummaryTimeout, err = envDuration("COUNCIL_SUMMARY_TIMEOUT", 2*time.Minute)
	collect(err)

	cfg.OperatorPasswordHash = envStr("COUNCIL_OPERATOR_PASSWORD_HASH", "")
	cfg.JWTPrivateKeyPath = envStr("COUNCIL_JWT_PRIVATE_KEY", "")
	cfg.JWTPublicKeyPath = envStr("COUNCIL_JWT_PUBLIC_KEY", "")
	cfg.JWTExpiration, err = envDuration("COUNCIL_JWT_EXPIRATION", 7*24*time.Hour)
	collect(err)

	cfg.RateLimitEnabled, err = envBool("COUNCIL_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("COUNCIL_RATE_LIMIT_RPS", 10)
	collect(err)
	cfg.RateLimitBurst, err = envInt("COUNCIL_RATE_LIMIT_BURST", 30)
	collect(err)

	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "council")
	cfg.OTELInsecure, err = envBool("COUNCIL_OTEL_INSECURE", false)
	collect(err)

	cfg.LogLevel = envStr("COUNCIL_LOG_LEVEL", "info")

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: invalid environment: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AuthEnabled reports whether operator login is required.
func (c Config) AuthEnabled() bool {
	return c.OperatorPasswordHash != ""
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("COUNCIL_PORT must be between 1 and 65535"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("COUNCIL_DATABASE_URL is required"))
	}
	if c.PersonaDir == "" {
		errs = append(errs, fmt.Errorf("COUNCIL_PERSONA_DIR is required"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("COUNCIL_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("COUNCIL_TICK_INTERVAL must be positive"))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("COUNCIL_GENERATION_TIMEOUT must be positive"))
	}
	if c.GenerationRetries < 0 {
		errs = append(errs, fmt.Errorf("COUNCIL_GENERATION_RETRIES must not be negative"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("COUNCIL_RETENTION_DAYS must not be negative"))
	}
	if c.RetentionDays > 0 && c.RetentionInterval <= 0 {
		errs = append(errs, fmt.Errorf("COUNCIL_RETENTION_INTERVAL must be positive when retention is enabled"))
	}
	switch c.Generator {
	case GeneratorAuto, GeneratorOllama, GeneratorScripted:
	case GeneratorOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("OPENAI_API_KEY is required when COUNCIL_GENERATOR=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("COUNCIL_GENERATOR=%q must be one of auto, ollama, openai, scripted", c.Generator))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, fmt.Errorf("COUNCIL_RATE_LIMIT_RPS and COUNCIL_RATE_LIMIT_BURST must be positive"))
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		errs = append(errs, fmt.Errorf("COUNCIL_JWT_PRIVATE_KEY and COUNCIL_JWT_PUBLIC_KEY must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
