package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/momangi/Pompiconni-app/internal/adapter/repo"
	"github.com/momangi/Pompiconni-app/internal/http/handlers"
	httpapi "github.com/momangi/Pompiconni-app/internal/http/httpapi"
	"github.com/momangi/Pompiconni-app/internal/infra"
	"github.com/momangi/Pompiconni-app/internal/infra/geoip"
	"github.com/momangi/Pompiconni-app/internal/middleware"
	"github.com/momangi/Pompiconni-app/internal/pipeline"
	imageprovider "github.com/momangi/Pompiconni-app/internal/providers/image"
	"github.com/momangi/Pompiconni-app/internal/providers/llm"
	"github.com/momangi/Pompiconni-app/internal/storage"
)

func main() {
	// Configurazione & logger
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// DB pool (pgxpool)
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	// Blob store per gli artifact
	blobs, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize file store")
	}

	// GeoIP (opzionale)
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, country lookups disabled")
	}
	var countryLookup middleware.CountryLookup
	if resolver != nil {
		countryLookup = resolver.CountryCode
	}

	// Provider Gemini: chat/vision e generazione immagini
	chat, err := llm.NewClient(llm.Options{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build chat client")
	}
	images, err := imageprovider.NewGeminiGenerator(imageprovider.GeminiOptions{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiImageModel,
		BaseURL: cfg.GeminiBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build image generator")
	}

	// Le quattro fasi della pipeline
	composer := pipeline.NewPromptComposer(chat, logger)
	generator := pipeline.NewImageCandidateGenerator(images, logger)
	evaluator := pipeline.NewVisionEvaluator(chat, logger)
	post := pipeline.NewPrintPostProcessor(pipeline.PrintPostProcessorOptions{
		OutputDPI:      cfg.OutputDPI,
		ThumbnailMaxPx: cfg.ThumbnailMaxPx,
		Logger:         logger,
	})

	pipe, err := pipeline.NewPipeline(pipeline.Options{
		Composer:       composer,
		Generator:      generator,
		Evaluator:      evaluator,
		PostProcessor:  post,
		MaxSyncRetries: cfg.MaxSyncRetries,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	// Persistenza dei run e sink per le continuazioni in background
	runs := repo.NewRunRepository(dbpool)
	sink := handlers.NewRunSink(runs, blobs, logger)

	worker, err := pipeline.NewRetryWorker(pipeline.RetryWorkerOptions{
		Generator:       generator,
		Evaluator:       evaluator,
		PostProcessor:   post,
		Sink:            sink,
		MaxAsyncRetries: cfg.MaxAsyncRetries,
		AttemptDelay:    cfg.AsyncRetryDelay,
		QueueSize:       cfg.AsyncQueueSize,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build retry worker")
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() {
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("retry worker stopped unexpectedly")
		}
	}()

	// App container + router
	app := handlers.NewApp(pipe, worker, runs, blobs, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		DefaultLocale:  "it",
		CountryLookup:  countryLookup,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
