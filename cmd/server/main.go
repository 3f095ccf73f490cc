// formvoice - Voice-assisted survey navigation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/formvoice/internal/api"
	"github.com/ashureev/formvoice/internal/catalog"
	"github.com/ashureev/formvoice/internal/config"
	"github.com/ashureev/formvoice/internal/identity"
	"github.com/ashureev/formvoice/internal/metrics"
	"github.com/ashureev/formvoice/internal/middleware"
	"github.com/ashureev/formvoice/internal/retry"
	"github.com/ashureev/formvoice/internal/store"
	"github.com/ashureev/formvoice/internal/survey"
	"github.com/ashureev/formvoice/internal/voice"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load survey catalogue", "error", err, "path", cfg.CatalogPath)
		os.Exit(1)
	}
	slog.Info("Survey catalogue loaded", "questions", cat.Len(), "entry_step", cat.EntryStep())

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	policy := retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   2.0,
		MaxDelay:     cfg.Retry.MaxDelay,
	}

	// Initialize services.
	registry := survey.NewRegistry()
	svc := survey.NewService(repo, cat, registry, recorder, policy, cfg.StorageTimeout)

	// Initialize handlers.
	apiHandler := api.NewHandler(svc)

	var dialer voice.AgentDialer
	if cfg.AgentURL == "" {
		slog.Info("Voice agent disabled (AGENT_URL not set), serving state sync only")
	} else {
		slog.Info("Voice agent enabled", "agent_url", cfg.AgentURL)
		dialer = voice.WebSocketDialer(cfg.AgentURL)
	}
	wsHandler := voice.NewWebSocketHandler(svc, registry, dialer, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint for the voice driver.
	r.Get("/ws/survey/{sessionID}", wsHandler.ServeHTTP)

	// Create server.
	// Note: WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
