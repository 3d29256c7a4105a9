// Command server runs the profitability API and background sync engine.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/adprofit/internal/auth"
	"github.com/sakif/adprofit/internal/cache"
	"github.com/sakif/adprofit/internal/config"
	"github.com/sakif/adprofit/internal/currency"
	"github.com/sakif/adprofit/internal/handler"
	"github.com/sakif/adprofit/internal/notify"
	"github.com/sakif/adprofit/internal/provider/facebook"
	"github.com/sakif/adprofit/internal/provider/shopify"
	"github.com/sakif/adprofit/internal/repository/sqldb"
	"github.com/sakif/adprofit/internal/server"
	"github.com/sakif/adprofit/internal/service"
	"github.com/sakif/adprofit/internal/syncer"
	"github.com/sakif/adprofit/internal/telemetry"
	"github.com/sakif/adprofit/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := cfg.NewLogger()

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// === SECURITY ===
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, time.Hour)
	if err != nil {
		return err
	}
	tokenVault, err := vault.New(cfg.TokenEncryptionKey, logger)
	if err != nil {
		return err
	}

	// === STORAGE ===
	if cfg.DatabaseURL == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return err
		}
	}
	db, err := sqldb.Open(ctx, cfg.DatabaseURL, cfg.DBPath)
	if err != nil {
		return err
	}
	logger.Info("database ready", slog.String("backend", db.Backend()))

	var shared cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		if client := cache.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger); client != nil {
			shared = cache.NewRedis(client, "adprofit:")
			defer client.Close()
		}
	}

	// === SYNC ENGINE ===
	metrics := telemetry.New()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	engine := syncer.NewEngine(
		db,
		shopify.New(httpClient, cfg.ShopifyAPIVersion, cfg.SyncMaxPages, logger, metrics),
		facebook.New(httpClient, cfg.FacebookGraphURL, cfg.FacebookAPIVersion, cfg.SyncMaxPages, logger, metrics),
		currency.NewLoader(nil, cfg.FXRatesURL, shared, cfg.FXCacheTTL, logger, metrics),
		tokenVault,
		syncer.Options{
			EnrichBatch:   cfg.SyncEnrichBatch,
			EnrichDelay:   cfg.SyncEnrichDelay,
			DefaultMarket: cfg.DefaultMarket,
		},
		logger,
		metrics,
	)
	runner := syncer.NewRunner(
		engine,
		syncer.NewRegistry(shared, cfg.RunStatusTTL),
		notify.New(cfg.RabbitMQURL, cfg.SyncQueueName, logger),
		cfg.SyncTimeout,
		logger,
		metrics,
	)

	// === HTTP ===
	srv := server.New(server.Config{Port: cfg.Port}, server.Deps{
		Tokens:       tokens,
		Metrics:      metrics.Handler(),
		Health:       handler.NewHealthHandler(db, logger),
		Sync:         handler.NewSyncHandler(runner, logger),
		Products:     handler.NewProductHandler(service.NewProductService(db, db, cfg.DefaultMarket, logger), logger),
		Campaigns:    handler.NewCampaignHandler(service.NewCampaignService(db, cfg.DefaultMarket, logger), logger),
		ProfitSheet:  handler.NewProfitSheetHandler(service.NewProfitSheetService(db, db, db, logger), logger),
		Integrations: handler.NewIntegrationHandler(service.NewIntegrationService(db, tokenVault, logger), logger),
		OnShutdown: []func(context.Context) error{
			runner.Shutdown,
			func(context.Context) error { return db.Close() },
		},
	}, logger)

	return srv.Start()
}
