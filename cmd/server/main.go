package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reftrack/internal/config"
	"reftrack/internal/handlers"
	"reftrack/internal/repository"
	"reftrack/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Setup Logger
	var handler slog.Handler
	if cfg.AppEnv == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 3. Rate table
	tiers, err := services.ParseTierTable(cfg.CommissionTiers)
	if err != nil {
		return fmt.Errorf("invalid COMMISSION_TIERS: %w", err)
	}
	if len(tiers) == 0 {
		logger.Warn("COMMISSION_TIERS is empty, attributed conversions will stay pending")
	}

	// 4. Initialize Database
	db, err := repository.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// 5. Run Migrations
	if strings.HasPrefix(cfg.DatabaseURL, "postgres") {
		logger.Info("Running database migrations...")
		if err := repository.RunMigrations(cfg.DatabaseURL, ""); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	} else if err := repository.AutoMigrate(db); err != nil {
		return err
	}

	// 6. Initialize Redis
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = repository.InitRedis(cfg.RedisURL, cfg.RedisPassword, 0)
		if err != nil {
			logger.Warn("Failed to connect to Redis, resolving without cache", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// 7. Initialize Services
	store := repository.NewStore(db)
	auditService := services.NewAuditService(store, logger)
	geoIPService := services.NewGeoIPService(cfg.GeoIPDBPath, logger)
	resolver := services.NewLinkResolver(store, rdb, cfg.ResolveCacheTTL, logger)
	codes := services.NewCodeGenerator(store, resolver, auditService, logger, services.CodeGeneratorConfig{
		MinLength: cfg.CodeMinLength,
		MaxLength: cfg.CodeMaxLength,
		Attempts:  cfg.CodeAttempts,
	})
	recorder := services.NewEventRecorder(store, services.NewClickEnricher(geoIPService), logger)
	engine := services.NewCommissionEngine(store, tiers, auditService, logger, cfg.EvaluateBatchSize)
	reports := services.NewReportingFacade(store)
	qrService := services.NewQRService()
	rateLimiter := services.NewIPRateLimiter(5, 10, 30*time.Minute, logger)

	// 8. Initialize Handler
	h := handlers.NewHandler(cfg, logger, codes, resolver, recorder, engine, reports, qrService)

	// 9. Setup Router
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := h.SetupRouter(rateLimiter)

	// 10. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background Context for workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// Start Background Workers
	auditDone := make(chan struct{})
	go func() {
		auditService.Start(workerCtx)
		close(auditDone)
	}()
	geoIPService.Init()
	defer geoIPService.Close()
	rateLimiter.StartCleanup(workerCtx, 10*time.Minute)

	var scheduler *services.EvaluateScheduler
	if cfg.EvaluateInterval > 0 {
		scheduler, err = services.NewEvaluateScheduler(engine, cfg.EvaluateInterval, cfg.EvaluateLookback, logger)
		if err != nil {
			return fmt.Errorf("failed to create commission scheduler: %w", err)
		}
		scheduler.Start(workerCtx)
	}

	// Initializing server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for context cancellation or server error
	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	}

	// Graceful shutdown timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error("Commission scheduler shutdown failed", "error", err)
		}
	}

	workerCancel()
	select {
	case <-auditDone:
	case <-shutdownCtx.Done():
		logger.Warn("Audit worker did not drain in time")
	}

	logger.Info("Server exiting")
	return runErr
}
