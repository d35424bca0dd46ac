package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"enricher/internal/backfill"
	"enricher/internal/http/handlers"
	"enricher/internal/http/httpapi"
	"enricher/internal/infra"
	"enricher/internal/infra/geoip"
	"enricher/internal/metrics"
	"enricher/internal/middleware"
	"enricher/internal/processor"
	"enricher/internal/providers/imagegen"
	"enricher/internal/providers/platform"
	"enricher/internal/providers/textgen"
	"enricher/internal/providers/vision"
	"enricher/internal/queue"
	"enricher/internal/remote"
	"enricher/internal/storage"
	"enricher/internal/store"
	"enricher/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.ImageAPIKey == "" {
		logger.Fatal().Msg("IMAGE_API_KEY is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := store.NewMemoryStore()
	var entityStore store.Store = mem
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(rootCtx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connect failed")
		}
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger)
		pgStore := store.NewPGStore(mem, runner, logger)
		if loaded, err := pgStore.Warm(rootCtx); err != nil {
			logger.Warn().Err(err).Msg("status snapshot warm-up failed")
		} else {
			logger.Info().Int("entities", loaded).Msg("entity status persistence enabled")
		}
		entityStore = pgStore
	}

	platformClient, err := platform.NewClient(platform.Options{
		BaseURL: cfg.PlatformBaseURL,
		Token:   cfg.PlatformToken,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("platform client init failed")
	}

	imageClient, err := imagegen.NewClient(imagegen.Options{
		APIKey:      cfg.ImageAPIKey,
		BaseURL:     cfg.ImageBaseURL,
		Model:       cfg.ImageModel,
		DefaultSize: cfg.ImageSize,
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("imagegen client init failed")
	}

	var textClient textgen.Generator
	if cfg.GeminiAPIKey != "" {
		client, err := textgen.NewGeminiClient(textgen.Options{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("textgen client init failed")
		}
		textClient = client
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set, briefs and placement fall back to heuristics")
	}

	var visionClient vision.Analyzer
	if cfg.GeminiAPIKey != "" && cfg.VisionModel != "" {
		client, err := vision.NewClient(vision.Options{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.VisionModel,
			BaseURL: cfg.GeminiBaseURL,
			Logger:  &logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("vision client init failed")
		}
		visionClient = client
	}

	var fileStore *storage.FileStore
	if cfg.StoragePath != "" {
		fileStore, err = storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("file store init failed")
		}
	}

	retryPolicy := remote.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay,
	}

	proc := processor.New(processor.Config{
		Store:             entityStore,
		Platform:          platformClient,
		TextGen:           textClient,
		ImageGen:          imageClient,
		Vision:            visionClient,
		Files:             fileStore,
		Logger:            logger,
		Locale:            cfg.DefaultLocale,
		CallTimeout:       cfg.CallTimeout,
		Retry:             retryPolicy,
		MinBlocksForModel: cfg.PlacementMinBlocks,
		ImageSize:         cfg.ImageSize,
	})

	registry := metrics.New()
	scheduler := queue.New(rootCtx, queue.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		Runner:         proc,
		Logger:         logger,
		OnChange:       registry.ObserveQueue,
	})

	hub := ws.NewHub(logger, registry.SetWSClients)
	mem.Subscribe(hub.Publish)
	mem.Subscribe(registry.ObserveOutcome)

	backfiller := backfill.New(backfill.Config{
		Platform:    platformClient,
		Store:       entityStore,
		Scheduler:   scheduler,
		Logger:      logger,
		BatchSize:   cfg.BatchSize,
		BatchDelay:  cfg.BatchDelay,
		Retry:       retryPolicy,
		CallTimeout: cfg.CallTimeout,
	})

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip resolver unavailable")
	} else if resolver != nil {
		countryLookup = resolver.CountryCode
	}

	app := &handlers.App{
		Store:      entityStore,
		Scheduler:  scheduler,
		Backfiller: backfiller,
		Hub:        hub,
		Metrics:    registry,
		Logger:     logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   countryLookup,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api listening")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := scheduler.WaitIdle(shutdownCtx); err != nil {
		logger.Warn().Int("active", scheduler.Active()).Msg("jobs still running at shutdown deadline")
	}
}
