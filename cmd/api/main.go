package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadline-ai/leadline/internal/admission"
	"github.com/leadline-ai/leadline/internal/cache"
	"github.com/leadline-ai/leadline/internal/callback"
	"github.com/leadline-ai/leadline/internal/client"
	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/crm"
	"github.com/leadline-ai/leadline/internal/database"
	"github.com/leadline-ai/leadline/internal/generator"
	"github.com/leadline-ai/leadline/internal/knowledge"
	"github.com/leadline-ai/leadline/internal/logging"
	"github.com/leadline-ai/leadline/internal/monitoring"
	"github.com/leadline-ai/leadline/internal/orchestrator"
	"github.com/leadline-ai/leadline/internal/server"
	"github.com/leadline-ai/leadline/internal/speech"
	"github.com/leadline-ai/leadline/internal/usage"
	"github.com/leadline-ai/leadline/migrations"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Msg("Starting LeadLine API server")

	// Initialize database connection
	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database.URL, migrations.FS, "."); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
	}

	// Redis is optional: knowledge context is fetched uncached when it is
	// unreachable
	redis, err := cache.New(cfg.Redis.URL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, knowledge cache disabled")
		redis = nil
	}
	defer redis.Close()

	// Initialize Prometheus metrics
	monitoring.Init()

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port)
	}

	// Knowledge store client doubles as the onboarding provisioner
	knowledgeProvider := knowledge.NewHTTPProvider(&cfg.Knowledge)
	cachedKnowledge := knowledge.NewCachedProvider(knowledgeProvider, redis, cfg.Knowledge.CacheTTL)

	clients := client.NewService(db.Pool, &cfg.Quota, knowledgeProvider)
	admitter := admission.NewController(db.Pool, &cfg.RateLimit)
	recorder := usage.NewRecorder(db.Pool, &cfg.Usage)

	gen := generator.NewBreakerGenerator(generator.NewOpenAIGenerator(&cfg.Generator, nil))

	orch := orchestrator.New(clients, admitter, cachedKnowledge, gen, recorder)

	callbacks := callback.NewStore(db.Pool)
	scheduler := callback.NewScheduler(callbacks, callback.NopDispatcher{}, &cfg.Callback)
	if err := scheduler.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start callback scheduler")
	}
	defer scheduler.Stop()

	srv := server.NewAPIServer(cfg, &server.Deps{
		DB:           db,
		Clients:      clients,
		Admission:    admitter,
		Usage:        recorder,
		Callbacks:    callbacks,
		Orchestrator: orch,
		Speech:       speech.New(&cfg.Speech),
		CRM:          crm.NewPusher(),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
