package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/cache"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/database"
	"github.com/stemsi/bursar-backend/internal/handler"
	"github.com/stemsi/bursar-backend/internal/logger"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
	"github.com/stemsi/bursar-backend/internal/router"
	"github.com/stemsi/bursar-backend/internal/service"
	"github.com/stemsi/bursar-backend/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("billing_mode", cfg.Billing.Mode).
		Str("base_currency", cfg.BaseCurrency).
		Msg("Starting Bursar Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	promotions, err := model.NewPromotionTable(cfg.GradeLevels)
	if err != nil {
		log.Fatal().Err(err).Strs("grade_levels", cfg.GradeLevels).Msg("Invalid GRADE_LEVELS")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	termRepo := repository.NewTermRepository(pool)
	chargeRepo := repository.NewChargeRepository(pool)
	runRepo := repository.NewBillingRunRepository(pool)
	rolloverRepo := repository.NewRolloverRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	dashboardRepo := repository.NewDashboardRepository(pool)

	locker := cache.NewRedisLocker(rdb, log)
	progress := cache.NewRedisProgress(rdb, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	adminService := service.NewAdminService(adminRepo, roleRepo)
	studentService := service.NewStudentService(studentRepo, chargeRepo)
	dashboardService := service.NewDashboardService(dashboardRepo)
	billingService := service.NewBillingService(termRepo, studentRepo, chargeRepo, runRepo, locker, progress, cfg, log)
	rolloverService := service.NewRolloverService(rolloverRepo, promotions, locker, cfg, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:      handler.NewAuthHandler(authService, adminService, log),
		Billing:   handler.NewBillingHandler(billingService, cfg.RequestTimeout, log),
		Rollover:  handler.NewRolloverHandler(rolloverService, log),
		Student:   handler.NewStudentHandler(studentService, log),
		Dashboard: handler.NewDashboardHandler(dashboardService, log),
		WS:        handler.NewWSHandler(progress, billingService, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	// WriteTimeout leaves room for a full billing run on top of RequestTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// In-flight billing runs keep their own deadline; give them time to
	// persist their report before the pool closes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop router background work (rate limiter cleanup).
	cancel()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
