package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/viralforge/newsletter-service/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	IdempotencyBackendPostgres = "postgres"
	IdempotencyBackendRedis    = "redis"
)

// Config is the resolved runtime configuration for the newsletter service.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	IdempotencyBackend  string
	IdempotencyLeaseTTL time.Duration

	EmailBaseURL   string
	EmailSender    domain.SubscriberEmail
	EmailAuthToken domain.Secret
	EmailTimeout   time.Duration

	DispatchConcurrency int

	JWTPublicKeyPEM   string
	JWTKeyID          string
	AllowEphemeralJWT bool

	KafkaBrokers []string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Idempotency struct {
		Backend      string `yaml:"backend"`
		LeaseSeconds int    `yaml:"lease_seconds"`
	} `yaml:"idempotency"`
	Email struct {
		BaseURL          string `yaml:"base_url"`
		Sender           string `yaml:"sender"`
		TimeoutMillis    int    `yaml:"timeout_ms"`
		DispatchParallel int    `yaml:"dispatch_concurrency"`
	} `yaml:"email"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:           "newsletter-service",
		HTTPPort:            8080,
		GRPCPort:            9090,
		MaxDBConns:          20,
		IdempotencyBackend:  IdempotencyBackendPostgres,
		EmailTimeout:        10 * time.Second,
		DispatchConcurrency: 1,
		JWTKeyID:            "newsletter-key-1",
		AllowEphemeralJWT:   true,
		OutboxPollInterval:  2 * time.Second,
		OutboxBatchSize:     100,
		OutboxClaimTTL:      30 * time.Second,
		OutboxMaxRetries:    5,
	}
	sender := ""

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		sender = applyFile(&cfg, f)
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.IdempotencyBackend = strings.ToLower(strings.TrimSpace(envOrDefault("IDEMPOTENCY_BACKEND", cfg.IdempotencyBackend)))
	cfg.IdempotencyLeaseTTL = time.Duration(envInt("IDEMPOTENCY_LEASE_SECONDS", int(cfg.IdempotencyLeaseTTL.Seconds()))) * time.Second
	cfg.EmailBaseURL = envOrDefault("EMAIL_BASE_URL", cfg.EmailBaseURL)
	sender = envOrDefault("EMAIL_SENDER", sender)
	cfg.EmailAuthToken = domain.NewSecret(envOrDefault("EMAIL_AUTH_TOKEN", cfg.EmailAuthToken.Expose()))
	cfg.EmailTimeout = time.Duration(envInt("EMAIL_TIMEOUT_MS", int(cfg.EmailTimeout.Milliseconds()))) * time.Millisecond
	cfg.DispatchConcurrency = envInt("DISPATCH_CONCURRENCY", cfg.DispatchConcurrency)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.AllowEphemeralJWT = envBool("ALLOW_EPHEMERAL_JWT", cfg.AllowEphemeralJWT)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	switch cfg.IdempotencyBackend {
	case IdempotencyBackendPostgres:
	case IdempotencyBackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("missing REDIS_URL for redis idempotency backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown IDEMPOTENCY_BACKEND %q", cfg.IdempotencyBackend)
	}
	if cfg.EmailBaseURL == "" {
		return Config{}, fmt.Errorf("missing EMAIL_BASE_URL")
	}
	cfg.EmailSender, err = domain.ParseSubscriberEmail(sender)
	if err != nil {
		return Config{}, fmt.Errorf("invalid EMAIL_SENDER: %w", err)
	}
	if cfg.EmailAuthToken.IsEmpty() {
		return Config{}, fmt.Errorf("missing EMAIL_AUTH_TOKEN")
	}
	if cfg.JWTPublicKeyPEM == "" && !cfg.AllowEphemeralJWT {
		return Config{}, fmt.Errorf("missing JWT_PUBLIC_KEY_PEM")
	}

	return cfg, nil
}

// applyFile copies non-zero file values onto cfg and returns the raw sender address.
func applyFile(cfg *Config, f configFile) string {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Idempotency.Backend != "" {
		cfg.IdempotencyBackend = f.Idempotency.Backend
	}
	if f.Idempotency.LeaseSeconds > 0 {
		cfg.IdempotencyLeaseTTL = time.Duration(f.Idempotency.LeaseSeconds) * time.Second
	}
	if f.Email.BaseURL != "" {
		cfg.EmailBaseURL = f.Email.BaseURL
	}
	if f.Email.TimeoutMillis > 0 {
		cfg.EmailTimeout = time.Duration(f.Email.TimeoutMillis) * time.Millisecond
	}
	if f.Email.DispatchParallel > 0 {
		cfg.DispatchConcurrency = f.Email.DispatchParallel
	}
	return f.Email.Sender
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or unparsable values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	switch strings.ToLower(raw) {
	case "yes":
		return true
	case "no":
		return false
	default:
		return fallback
	}
}

// envCSV splits comma-separated values and drops empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
