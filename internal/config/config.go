// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over it. Every key has a default so the
// server starts with zero configuration against a local SQLite file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the server and sync engine read.
type Config struct {
	Port      int
	LogLevel  slog.Level
	LogFormat string // "text" or "json"

	DBPath      string // SQLite file, used when DatabaseURL is empty
	DatabaseURL string // Postgres DSN

	JWTSecret          string
	TokenEncryptionKey string

	ShopifyAPIVersion  string
	FacebookGraphURL   string
	FacebookAPIVersion string

	SyncMaxPages    int
	SyncTimeout     time.Duration
	SyncEnrichBatch int
	SyncEnrichDelay time.Duration
	RunStatusTTL    time.Duration

	FXRatesURL string
	FXCacheTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitMQURL   string
	SyncQueueName string

	DefaultMarket string
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}

	cfg := Config{
		Port:      envInt("PORT", 8080),
		LogFormat: strings.ToLower(envStr("LOG_FORMAT", "text")),

		DBPath:      envStr("DB_PATH", "data/adprofit.db"),
		DatabaseURL: envStr("DATABASE_URL", ""),

		JWTSecret:          envStr("JWT_SECRET", ""),
		TokenEncryptionKey: envStr("TOKEN_ENCRYPTION_KEY", ""),

		ShopifyAPIVersion:  envStr("SHOPIFY_API_VERSION", "2024-01"),
		FacebookGraphURL:   envStr("FACEBOOK_GRAPH_URL", "https://graph.facebook.com"),
		FacebookAPIVersion: envStr("FACEBOOK_API_VERSION", "v19.0"),

		SyncMaxPages:    envInt("SYNC_MAX_PAGES", 10),
		SyncTimeout:     envDur("SYNC_TIMEOUT", 10*time.Minute),
		SyncEnrichBatch: envInt("SYNC_ENRICH_BATCH", 10),
		SyncEnrichDelay: envDur("SYNC_ENRICH_DELAY", 500*time.Millisecond),
		RunStatusTTL:    envDur("RUN_STATUS_TTL", time.Hour),

		FXRatesURL: envStr("FX_RATES_URL", "https://open.er-api.com/v6/latest/EUR"),
		FXCacheTTL: envDur("FX_CACHE_TTL", 6*time.Hour),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		RabbitMQURL:   envStr("RABBITMQ_URL", ""),
		SyncQueueName: envStr("SYNC_QUEUE_NAME", "sync.completed"),

		DefaultMarket: strings.ToLower(envStr("DEFAULT_MARKET", "mid")),
	}

	level, err := parseLevel(envStr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.SyncMaxPages <= 0 {
		return Config{}, fmt.Errorf("config: SYNC_MAX_PAGES must be positive, got %d", cfg.SyncMaxPages)
	}
	if cfg.SyncEnrichBatch <= 0 {
		return Config{}, fmt.Errorf("config: SYNC_ENRICH_BATCH must be positive, got %d", cfg.SyncEnrichBatch)
	}
	return cfg, nil
}

// NewLogger builds the process logger described by cfg.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL %q: %w", s, err)
	}
	return l, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
