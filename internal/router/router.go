// internal/router/router.go
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/handlers"
	"github.com/javajoker/coop-registry/internal/metrics"
	"github.com/javajoker/coop-registry/internal/middleware"
	"github.com/javajoker/coop-registry/internal/models"
	"github.com/javajoker/coop-registry/internal/services"
)

const version = "1.0.0"

var (
	allStaff   = []models.UserRole{models.UserRoleSystemAdmin, models.UserRoleAdmin, models.UserRoleStaff}
	adminsOnly = []models.UserRole{models.UserRoleSystemAdmin, models.UserRoleAdmin}
)

// Initialize builds the HTTP engine. The returned func stops the rate limiter janitors.
func Initialize(cfg *config.Config, db *gorm.DB, container *services.Container, m *metrics.Metrics, gatherer prometheus.Gatherer) (*gin.Engine, func()) {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(container.Auth)
	userHandler := handlers.NewUserHandler(container.Users)
	applicationHandler := handlers.NewApplicationHandler(container.Applications, container.Approvals)
	paymentHandler := handlers.NewPaymentHandler(container.Payments, container.Approvals, container.Activity)
	certificateHandler := handlers.NewCertificateHandler(container.Certificates, container.Activity)
	uploadHandler := handlers.NewUploadHandler(container.Storage)
	adminHandler := handlers.NewAdminHandler(container.Reports, container.Settings, container.Activity)

	limits := middleware.NewRateLimits(cfg.RateLimit.Enabled)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(cfg.Frontend))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": version,
		})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Payment webhooks are not rate limited; the gateway retries on failure.
		v1.POST("/payments/webhook", paymentHandler.Webhook)

		public := v1.Group("")
		public.Use(limits.GeneralRateLimit())
		{
			public.POST("/applications", limits.SubmissionRateLimit(), applicationHandler.Submit)

			payments := public.Group("/payments")
			{
				payments.POST("/initialize", paymentHandler.Initialize)
				payments.POST("/verify", paymentHandler.Verify)
				payments.GET("/public-key", paymentHandler.PublicKey)
			}

			public.GET("/certificates/verify/:regNo", certificateHandler.Verify)
		}

		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(limits.AuthRateLimit())
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", middleware.AuthRequired(), authHandler.Logout)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
		}

		// Authenticated staff routes
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/profile", userHandler.GetProfile)
			protected.PUT("/profile", userHandler.UpdateProfile)
			protected.PUT("/profile/password", userHandler.ChangePassword)
			protected.POST("/uploads/presign", limits.UploadRateLimit(), uploadHandler.Presign)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AuditLogMiddleware(container.Activity))
		{
			applications := admin.Group("/applications")
			{
				applications.GET("", middleware.RequireRoles(allStaff...), applicationHandler.List)
				applications.GET("/stats", middleware.RequireRoles(allStaff...), applicationHandler.Stats)
				applications.GET("/stats/overview", middleware.RequireRoles(allStaff...), applicationHandler.Stats)
				applications.GET("/:id", middleware.RequireRoles(allStaff...), applicationHandler.Get)
				applications.PATCH("/:id/status", middleware.RequireRoles(adminsOnly...), applicationHandler.UpdateStatus)
				applications.POST("/:id/documents", middleware.RequireRoles(adminsOnly...), applicationHandler.AddDocument)
				applications.POST("/:id/resume-approval", middleware.RequireRoles(adminsOnly...), applicationHandler.ResumeApproval)
			}

			payments := admin.Group("/payments")
			payments.Use(middleware.RequireRoles(adminsOnly...))
			{
				payments.GET("", paymentHandler.List)
				payments.GET("/stats", paymentHandler.Stats)
				payments.GET("/monthly", paymentHandler.Monthly)
				payments.GET("/pending", paymentHandler.Pending)
				payments.GET("/:id", paymentHandler.Get)
				payments.POST("/:id/approve", paymentHandler.Approve)
				payments.POST("/:id/reject", paymentHandler.Reject)
			}

			certificates := admin.Group("/certificates")
			certificates.Use(middleware.RequireRoles(adminsOnly...))
			{
				certificates.GET("", certificateHandler.List)
				certificates.GET("/:id", certificateHandler.Get)
				certificates.POST("", certificateHandler.Generate)
				certificates.PATCH("/:id/revoke", certificateHandler.Revoke)
			}

			users := admin.Group("/users")
			users.Use(middleware.RequireRoles(adminsOnly...))
			{
				users.GET("", userHandler.List)
				users.POST("", userHandler.Create)
				users.GET("/:id", userHandler.Get)
				users.PUT("/:id", userHandler.Update)
				users.PATCH("/:id/status", userHandler.UpdateStatus)
				users.DELETE("/:id", userHandler.Delete)
			}

			settings := admin.Group("/settings")
			settings.Use(middleware.RequireRoles(models.UserRoleSystemAdmin))
			{
				settings.GET("", adminHandler.GetSettings)
				settings.GET("/:key", adminHandler.GetSetting)
				settings.PUT("/:key", adminHandler.UpdateSetting)
			}

			reports := admin.Group("/reports")
			reports.Use(middleware.RequireRoles(allStaff...))
			{
				reports.GET("/applications", adminHandler.GetApplicationReport)
				reports.GET("/payments", adminHandler.GetPaymentReport)
				reports.GET("/users", adminHandler.GetUserReport)
			}

			admin.GET("/dashboard", middleware.RequireRoles(allStaff...), adminHandler.GetDashboardStats)
			admin.GET("/activity-logs", middleware.RequireRoles(adminsOnly...), adminHandler.GetActivityLogs)
		}
	}

	// Local uploads when S3 is not configured
	if cfg.AWS.AccessKeyID == "" {
		r.Static("/uploads", services.LocalUploadDir)
	}

	return r, limits.Stop
}
