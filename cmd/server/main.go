package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlog/journal-gateway/internal/analysis"
	"github.com/voxlog/journal-gateway/internal/config"
	"github.com/voxlog/journal-gateway/internal/observability"
	"github.com/voxlog/journal-gateway/internal/resilience"
	"github.com/voxlog/journal-gateway/internal/session"
	"github.com/voxlog/journal-gateway/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_model", cfg.SonioxModel).
		Str("analysis_model", cfg.GeminiModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Journal Gateway Service starting")

	ctx := context.Background()

	analyzer, err := analysis.NewGeminiAnalyzer(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create analyzer")
	}
	defer analyzer.Close()

	// Persistence is optional: without a database URL, sessions exist only
	// for the lifetime of their connection.
	var sessionStore store.SessionStore
	if cfg.DatabaseURL != "" {
		var pg *store.PostgresStore
		err := resilience.Reconnect(ctx, func() error {
			var connErr error
			pg, connErr = store.NewPostgresStore(ctx, cfg.DatabaseURL)
			return connErr
		}, resilience.DefaultReconnectPolicy())
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		sessionStore = pg
		defer pg.Close()
		logger.Info().Msg("Session persistence enabled")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, session persistence disabled")
	}

	registry := session.NewRegistry()
	handler := session.NewHandler(cfg, registry, analyzer, sessionStore)

	// Create HTTP server
	mux := http.NewServeMux()

	// Recording WebSocket endpoint
	mux.HandleFunc("/ws/session", handler.ServeWS)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	checks := map[string]observability.HealthCheckFunc{
		"upstream_config": func(ctx context.Context) (bool, error) {
			// Validates credentials and endpoint scheme without dialing,
			// to avoid burning transcription minutes on probes.
			if cfg.SonioxAPIKey == "" {
				return false, fmt.Errorf("missing transcription API key")
			}
			return true, nil
		},
		"analyzer": func(ctx context.Context) (bool, error) {
			if cfg.GeminiAPIKey == "" {
				return false, fmt.Errorf("missing analysis API key")
			}
			return true, nil
		},
	}
	if sessionStore != nil {
		checks["database"] = func(ctx context.Context) (bool, error) {
			if err := sessionStore.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/session", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
