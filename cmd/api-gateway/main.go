package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/lexora/lexora-api/api/swagger"
	"github.com/lexora/lexora-api/internal/handler"
	"github.com/lexora/lexora-api/internal/middleware"
	"github.com/lexora/lexora-api/internal/models"
	"github.com/lexora/lexora-api/internal/repository"
	"github.com/lexora/lexora-api/internal/service"
	"github.com/lexora/lexora-api/pkg/cache"
	"github.com/lexora/lexora-api/pkg/config"
	"github.com/lexora/lexora-api/pkg/database"
	"github.com/lexora/lexora-api/pkg/logger"
	corsmiddleware "github.com/lexora/lexora-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lexora/lexora-api/pkg/middleware/requestid"
	"github.com/lexora/lexora-api/pkg/storage"
)

// @title Lexora API
// @version 1.0.0
// @description Law firm case management backend
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.Connect(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, list cache disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	exportRepo := repository.NewExportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	scopeResolver := service.NewAccessScopeResolver(userRepo, caseRepo, service.DefaultAccessScopeConfig(), logr)

	caseSvc := service.NewCaseService(caseRepo, cacheRepo, scopeResolver, logr, cfg.Cases.ListCacheTTL)
	caseSvc.SetMetrics(metricsSvc)

	var exportSvc *service.CaseExportService
	if cfg.Exports.Enabled {
		fileStore, storeErr := storage.NewExportStore(cfg.Exports.StorageDir)
		if storeErr != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", storeErr)
		}
		signer := storage.NewDownloadTokenSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewCaseExportService(exportRepo, caseRepo, scopeResolver, fileStore, signer, service.ExportConfig{
			APIPrefix:         cfg.APIPrefix,
			WorkerConcurrency: cfg.Exports.WorkerConcurrency,
			WorkerRetries:     cfg.Exports.WorkerRetries,
		}, logr)

		workerCtx, cancelWorkers := context.WithCancel(context.Background())
		defer cancelWorkers()
		exportSvc.Start(workerCtx)
		defer exportSvc.Stop()

		// Files older than the token TTL are unreachable; reclaim the disk.
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-workerCtx.Done():
					return
				case <-ticker.C:
					if n, sweepErr := fileStore.Sweep(cfg.Exports.SignedURLTTL); sweepErr != nil {
						logr.Sugar().Warnw("export sweep failed", "error", sweepErr)
					} else if n > 0 {
						logr.Sugar().Infow("swept expired export files", "removed", n)
					}
				}
			}
		}()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	caseHandler := handler.NewCaseHandler(caseSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	cases := authed.Group("/cases")
	cases.GET("", caseHandler.List)
	cases.GET("/:id", caseHandler.Get)
	cases.PUT("/:id", middleware.Audit(userRepo, models.AuditActionAccess, "cases"), caseHandler.Update)
	cases.GET("/:id/logs", caseHandler.Logs)

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		// Sales staff can read their cases but never export full histories.
		exportRoles := middleware.RequireRoles(
			models.RoleSuperAdmin, models.RoleAdmin, models.RoleAdministration,
			models.RoleLawyer, models.RoleAssistant,
		)
		cases.POST("/:id/exports", exportRoles, exportHandler.Create)
		cases.GET("/:id/exports/:jobId", exportRoles, exportHandler.Get)
		api.GET("/exports/download/:token", exportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
