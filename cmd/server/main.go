package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/analyzer"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/config"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/db"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/extraction"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/middleware"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/repository"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/router"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/services"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/storage"
	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)
	if cfg.EnvFileLoaded {
		logger.Info("Loaded environment from .env")
	}

	// Money fields are JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true

	// Run migrations
	if err := db.RunMigrations(cfg.DatabasePath); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize database
	database, err := db.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer database.Close()

	// Object storage is optional; extraction still works without it.
	var images services.ImageStore
	s3, err := storage.NewS3Storage(context.Background(), cfg)
	if err != nil {
		logger.Warn("Object storage unavailable, receipt images will not be saved", "error", err)
	} else {
		images = storage.NewImageStore(s3, cfg.PublicBaseURL, logger)
	}

	model := newAnalyzer(cfg, logger)
	if closer, ok := model.(io.Closer); ok {
		defer closer.Close()
	}
	if strings.TrimSpace(cfg.ModelAPIKey()) == "" {
		logger.Warn("AI provider API key is not set; extraction requests will fail until it is configured",
			"provider", cfg.AIProvider)
	}

	extractor := extraction.NewExtractor(model, extraction.Options{
		Policy: extraction.RetryPolicy{
			MaxAttempts: cfg.Extraction.MaxAttempts,
			BaseDelay:   cfg.Extraction.BaseDelay,
		},
		Temperature:     cfg.Extraction.Temperature,
		MaxOutputTokens: cfg.Extraction.MaxOutputTokens,
	}, logger)

	// Initialize receipt service
	receiptRepo := repository.NewRepository(database)
	receiptService := services.NewService(services.Deps{
		Repo:           receiptRepo,
		Images:         images,
		Extractor:      extractor,
		Analyzer:       model,
		MaxFileSize:    cfg.MaxFileSize,
		PersistTimeout: cfg.PersistTimeout,
		Logger:         logger,
	})

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Fatal("Invalid TRUSTED_PROXIES", "error", err)
	}

	// Setup HTTP router
	handler := router.NewRouter(receiptService, logger, router.Options{
		MaxFileSize:    cfg.MaxFileSize,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TrustedProxies: proxies,
	})

	// Create HTTP server; writes must outlast the full retry budget.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server",
			"port", cfg.Port,
			"provider", cfg.AIProvider,
			"model", model.ModelName(),
			"database", cfg.DatabasePath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

func newAnalyzer(cfg *config.Config, logger *utils.Logger) analyzer.Analyzer {
	switch cfg.AIProvider {
	case config.ProviderOpenRouter:
		return analyzer.NewOpenRouterAnalyzer(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL, logger)
	default:
		return analyzer.NewGeminiAnalyzer(cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	}
}
