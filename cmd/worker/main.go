// The worker runs a single backfill pass: scan the platform, enqueue image
// generation for every entity without one, then drain the queue and exit.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"enricher/internal/backfill"
	"enricher/internal/domain"
	"enricher/internal/infra"
	"enricher/internal/metrics"
	"enricher/internal/processor"
	"enricher/internal/providers/imagegen"
	"enricher/internal/providers/platform"
	"enricher/internal/providers/textgen"
	"enricher/internal/queue"
	"enricher/internal/remote"
	"enricher/internal/storage"
	"enricher/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := store.NewMemoryStore()
	var entityStore store.Store = mem
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connect failed")
		}
		defer pool.Close()
		entityStore = store.NewPGStore(mem, infra.NewSQLRunner(pool, logger), logger)
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
		Files:             fileStore,
		Logger:            logger,
		Locale:            cfg.DefaultLocale,
		CallTimeout:       cfg.CallTimeout,
		Retry:             retryPolicy,
		MinBlocksForModel: cfg.PlacementMinBlocks,
		ImageSize:         cfg.ImageSize,
	})
	registry := metrics.New()
	scheduler := queue.New(ctx, queue.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		Runner:         proc,
		Logger:         logger,
		OnChange:       registry.ObserveQueue,
	})

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

	summary, err := backfiller.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("backfill failed")
	}
	if err := scheduler.WaitIdle(ctx); err != nil {
		logger.Warn().Err(err).Int("pending", scheduler.Pending()).Int("active", scheduler.Active()).Msg("interrupted before queue drained")
	}

	succeeded, failed := 0, 0
	entities, _ := entityStore.List(context.Background())
	for _, e := range entities {
		switch e.Status {
		case domain.StatusSuccess:
			succeeded++
		case domain.StatusError:
			failed++
		}
	}

	logger.Info().
		Int("scanned", summary.Scanned).
		Int("enqueued", summary.Enqueued).
		Int("skipped", summary.Skipped).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("worker finished")
}
