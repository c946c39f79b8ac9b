package main

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/FLX-Software/flx-assets-2026-sub000/api/swagger"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/app"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/handler"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/middleware"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/config"
	"github.com/FLX-Software/flx-assets-2026-sub000/pkg/logger"
	corsmiddleware "github.com/FLX-Software/flx-assets-2026-sub000/pkg/middleware/cors"
	reqidmiddleware "github.com/FLX-Software/flx-assets-2026-sub000/pkg/middleware/requestid"
)

func newRouter(a *app.App) *gin.Engine {
	cfg := a.Config

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.Metrics))

	checks := map[string]handler.Pinger{"postgres": a.DB}
	if a.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })
	}
	metricsHandler := handler.NewMetricsHandler(a.Metrics, checks, a.Logger)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(a.Auth)
	scanHandler := handler.NewScanHandler(a.Lending)
	itemHandler := handler.NewItemHandler(a.Items, a.Lending, a.Maintenance)
	loanHandler := handler.NewLoanHandler(a.Loans)
	adminHandler := handler.NewAdminHandler(a.Reconciliation)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(a.Auth))

	privileged := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	secured.GET("/auth/me", authHandler.Me)
	secured.POST("/scans", scanHandler.Scan)

	items := secured.Group("/items")
	items.GET("", itemHandler.List)
	items.POST("", privileged, itemHandler.Create)
	items.GET("/attention", itemHandler.Attention)
	items.GET("/:id", itemHandler.Get)
	items.GET("/:id/maintenance", itemHandler.Maintenance)
	items.PATCH("/:id/status", privileged, itemHandler.SetStatus)

	loans := secured.Group("/loans")
	loans.GET("", loanHandler.List)
	loans.GET("/export", privileged, middleware.Audit(a.Users, a.Logger, models.AuditActionLoanExport, "loan"), loanHandler.Export)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleSuperAdmin))
	admin.POST("/reconciliation", middleware.Audit(a.Users, a.Logger, models.AuditActionReconciliationRun, "ledger"), adminHandler.Reconcile)
	admin.GET("/metrics", metricsHandler.Snapshot)

	return r
}
