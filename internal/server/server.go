// Package server wires handlers, middleware and routes, and runs the HTTP
// server until SIGINT or SIGTERM.
//
// ROUTES:
//
//	GET    /healthz                              database ping
//	GET    /metrics                              Prometheus
//	POST   /api/sync                             start a sync run (202)
//	GET    /api/sync/{runID}                     poll a run
//	GET    /api/products                         list products
//	PUT    /api/products/{id}/cost-price         set cost price and cascade
//	GET    /api/campaigns                        campaign catalogue
//	GET    /api/campaigns/summary                decision counts
//	GET    /api/campaigns/{campaignID}/records   daily records
//	POST   /api/campaigns/{campaignID}/decisions evaluate and persist
//	PUT    /api/profit-sheet                     upsert a manual row
//	GET    /api/profit-sheet                     per-day report
//	POST   /api/integrations                     connect a provider
//	GET    /api/integrations                     list active integrations
//	DELETE /api/integrations/{id}                soft-disable
//
// Everything under /api requires a bearer token.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/auth"
	"github.com/sakif/adprofit/internal/handler"
	"github.com/sakif/adprofit/internal/middleware"
)

type Config struct {
	Port int
}

// Deps are the handlers and collaborators the server routes to.
type Deps struct {
	Tokens       *auth.TokenService
	Metrics      http.Handler
	Health       *handler.HealthHandler
	Sync         *handler.SyncHandler
	Products     *handler.ProductHandler
	Campaigns    *handler.CampaignHandler
	ProfitSheet  *handler.ProfitSheetHandler
	Integrations *handler.IntegrationHandler

	// OnShutdown runs after the listener has drained, in order.
	OnShutdown []func(ctx context.Context) error
}

type Server struct {
	router *chi.Mux
	config Config
	deps   Deps
	logger *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.deps.Health.HandleHealth)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics)
	}

	unauthorized := func(w http.ResponseWriter, err error) {
		s.logger.Debug("rejected request", slog.String("error", err.Error()))
		handler.WriteError(w, apperror.Unauthorized("valid authentication required"))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.deps.Tokens, unauthorized))

		r.Post("/sync", s.deps.Sync.HandleStart)
		r.Get("/sync/{runID}", s.deps.Sync.HandleGet)

		r.Get("/products", s.deps.Products.HandleList)
		r.Put("/products/{id}/cost-price", s.deps.Products.HandleUpdateCost)

		r.Get("/campaigns", s.deps.Campaigns.HandleList)
		r.Get("/campaigns/summary", s.deps.Campaigns.HandleSummary)
		r.Get("/campaigns/{campaignID}/records", s.deps.Campaigns.HandleRecords)
		r.Post("/campaigns/{campaignID}/decisions", s.deps.Campaigns.HandleEvaluate)

		r.Put("/profit-sheet", s.deps.ProfitSheet.HandleUpsert)
		r.Get("/profit-sheet", s.deps.ProfitSheet.HandleReport)

		r.Post("/integrations", s.deps.Integrations.HandleConnect)
		r.Get("/integrations", s.deps.Integrations.HandleList)
		r.Delete("/integrations/{id}", s.deps.Integrations.HandleDisable)
	})
}

// Start serves until a shutdown signal, then drains in-flight requests and
// runs the shutdown hooks within a 30s budget.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", slog.Int("port", s.config.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			s.shutdownHooks(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := srv.Shutdown(ctx)
	s.shutdownHooks(ctx)
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

func (s *Server) shutdownHooks(ctx context.Context) {
	for _, fn := range s.deps.OnShutdown {
		if err := fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", slog.String("error", err.Error()))
		}
	}
}
