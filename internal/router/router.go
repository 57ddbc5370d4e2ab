package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/handler"
	"github.com/stemsi/bursar-backend/internal/middleware"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/response"
	"github.com/stemsi/bursar-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth      *handler.AuthHandler
	Billing   *handler.BillingHandler
	Rollover  *handler.RolloverHandler
	Student   *handler.StudentHandler
	Dashboard *handler.DashboardHandler
	WS        *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background work of the router such as rate limiter cleanup.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	// Preflight OPTIONS requests are answered here for every route.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", handler.IdempotencyKeyHeader}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper:   middleware.SkipDownloads,
	}))

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 0. Function endpoints (JWT + RBAC, flat JSON bodies) ──────────
	router.POST("/bill-term",
		middleware.RequireAdminJWT(authService),
		middleware.RequirePermission(model.PermissionBillingRun),
		handlers.Billing.BillTerm,
	)
	router.POST("/new-academic-year",
		middleware.RequireAdminJWT(authService),
		middleware.RequirePermission(model.PermissionAcademicYearRollover),
		handlers.Rollover.NewAcademicYear,
	)

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(ctx, 30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(middleware.NoStore())
	{
		auth.POST("/admin/login", authLimiter.Middleware(), handlers.Auth.AdminLogin)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. WebSocket Group (Admin WS Auth) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(authService))
	{
		ws.GET("/admin/billing-runs/:id/stream",
			middleware.RequireAnyPermission(model.PermissionBillingRead, model.PermissionBillingRun),
			handlers.WS.BillingRunStream,
		)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		adminAPI.GET("/dashboard",
			middleware.RequirePermission(model.PermissionStudentsRead),
			handlers.Dashboard.GetDashboardData,
		)

		studentsGroup := adminAPI.Group("/students")
		studentsGroup.Use(middleware.RequirePermission(model.PermissionStudentsRead))
		{
			studentsGroup.GET("", handlers.Student.ListStudents)
			studentsGroup.GET("/:id", handlers.Student.GetStudent)
		}

		runsGroup := adminAPI.Group("/billing-runs")
		runsGroup.Use(middleware.RequireAnyPermission(model.PermissionBillingRead, model.PermissionBillingRun))
		{
			runsGroup.GET("", handlers.Billing.ListRuns)
			runsGroup.GET("/:id", handlers.Billing.GetRun)
			runsGroup.GET("/:id/export", handlers.Billing.ExportRun)
		}
	}

	return router
}
