// Package main is the entry point for the foodgrid server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/foodgrid/server/internal/api"
	"github.com/foodgrid/server/internal/cache"
	"github.com/foodgrid/server/internal/config"
	"github.com/foodgrid/server/internal/data/catalog"
	"github.com/foodgrid/server/internal/grid"
	"github.com/foodgrid/server/internal/render"
	"github.com/foodgrid/server/internal/service"
	"github.com/joho/godotenv"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Secrets may live in .env during development.
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration", "err", err)
	}
	if level, err := log.ParseLevel(cfg.Server.LogLevel); err == nil {
		log.SetLevel(level)
	}

	log.Info("Starting foodgrid server", "port", cfg.Server.Port)

	ctx := context.Background()

	reader, err := catalog.NewReader(cfg.Catalog.CSVPath)
	if err != nil {
		log.Fatal("Failed to load catalog", "path", cfg.Catalog.CSVPath, "err", err)
	}
	stats := reader.Stats()
	log.Info("Catalog loaded", "path", cfg.Catalog.CSVPath, "products", stats.Products,
		"stores", len(stats.Stores), "skipped_rows", stats.SkippedRows)

	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: cfg.Cache.ImageSizeMB,
		ImageTTL:         time.Duration(cfg.Cache.ImageTTLMinutes) * time.Minute,
		QueryCacheSize:   cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatal("Failed to initialize cache", "err", err)
	}
	defer cacheManager.Close()

	stores := make([]string, 0, len(stats.Stores))
	for store := range stats.Stores {
		stores = append(stores, store)
	}
	renderer := render.NewRenderer(render.Config{
		ScoreMin: stats.MinScore,
		ScoreMax: stats.MaxScore,
		PriceMin: stats.MinPrice,
		PriceMax: stats.MaxPrice,
		Stores:   stores,
	})

	catalogService := service.NewCatalogService(reader, cacheManager)
	imageService := service.NewImageService(service.ImageServiceConfig{
		DefaultTemplate: cfg.Images.Upstream,
		StoreTemplates:  cfg.Images.Stores,
		Timeout:         cfg.Images.Timeout(),
		Retries:         cfg.Images.Retries,
		Cache:           cacheManager,
		Renderer:        renderer,
	})

	canvasService, err := service.NewCanvasService(service.CanvasServiceConfig{
		Grid: grid.Config{
			CellWidth:   cfg.Canvas.CellWidth,
			CellHeight:  cfg.Canvas.CellHeight,
			BufferCells: cfg.Canvas.BufferCells,
			MaxBatch:    cfg.Canvas.MaxBatch,
		},
		Debounce:    time.Duration(cfg.Canvas.DebounceMS) * time.Millisecond,
		MaxSessions: cfg.Canvas.MaxSessions,
		Catalog:     catalogService,
		Renderer:    renderer,
	})
	if err != nil {
		log.Fatal("Failed to initialize canvas sessions", "err", err)
	}
	defer canvasService.Close()

	labService := service.NewLabService(service.LabServiceConfig{
		Model:      cfg.Labs.Model,
		PromptPath: cfg.Labs.PromptPath,
		InputDir:   cfg.Labs.InputDir,
		OutputPath: cfg.Labs.OutputPath,
		UploadDir:  cfg.Labs.UploadDir,
		APIBaseURL: cfg.Labs.APIBaseURL,
		APIKey:     cfg.Labs.APIKey,
	})
	if err := labService.CheckAPIKey(); err != nil {
		log.Warn("Lab extraction disabled until the API key is set", "env", cfg.Labs.APIKeyEnv)
	}

	// Lab extraction jobs (SQLite persistence)
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Labs.MaxConcurrent,
		SQLitePath:    cfg.Labs.SQLitePath,
		RetentionDays: cfg.Labs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	}, labService.ExecuteJob, labService.ReleaseJob)
	if err != nil {
		log.Fatal("Failed to initialize job manager", "err", err)
	}
	log.Info("Lab job manager", "max_concurrent", cfg.Labs.MaxConcurrent,
		"retention_days", cfg.Labs.RetentionDays, "sqlite", cfg.Labs.SQLitePath)

	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		CORSOrigins:    cfg.Server.CORSOrigins,
		Catalog:        catalogService,
		Images:         imageService,
		Canvas:         canvasService,
		Labs:           labService,
		JobManager:     jobManager,
		MaxUploadBytes: int64(cfg.Labs.MaxUploadMB) << 20,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // synchronous lab ingest waits on the model
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", "err", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "err", err)
	}

	log.Info("Server stopped")
}
