package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/signage-rotation-api/api/swagger"
	"github.com/noah-isme/signage-rotation-api/internal/dto"
	"github.com/noah-isme/signage-rotation-api/internal/handler"
	"github.com/noah-isme/signage-rotation-api/internal/middleware"
	"github.com/noah-isme/signage-rotation-api/internal/models"
	"github.com/noah-isme/signage-rotation-api/internal/player"
	"github.com/noah-isme/signage-rotation-api/internal/repository"
	"github.com/noah-isme/signage-rotation-api/internal/service"
	"github.com/noah-isme/signage-rotation-api/internal/watcher"
	"github.com/noah-isme/signage-rotation-api/pkg/cache"
	"github.com/noah-isme/signage-rotation-api/pkg/config"
	"github.com/noah-isme/signage-rotation-api/pkg/database"
	"github.com/noah-isme/signage-rotation-api/pkg/export"
	"github.com/noah-isme/signage-rotation-api/pkg/jobs"
	"github.com/noah-isme/signage-rotation-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/signage-rotation-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/signage-rotation-api/pkg/middleware/requestid"
	"github.com/noah-isme/signage-rotation-api/pkg/storage"
)

// @title Signage Rotation API
// @version 1.0.0
// @description Playlist scheduling and screen rotation for display walls
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}

	versionRepo := repository.NewVersionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	reportJobRepo := repository.NewReportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	rotationSvc := service.NewRotationService(versionRepo, auditRepo, cacheRepo, cacheSvc, metricsSvc, nil, validate, logr,
		service.RotationServiceConfig{
			StateTTL:     cfg.Schedule.StateTTL,
			PreviewLimit: cfg.Schedule.PreviewLimit,
		})

	operators := make([]models.Operator, 0, len(cfg.Auth.Operators))
	for _, op := range cfg.Auth.Operators {
		operators = append(operators, models.Operator{
			ID:           op.ID,
			Email:        op.Email,
			Name:         op.Name,
			PasswordHash: op.PasswordHash,
			Role:         models.UserRole(op.Role),
		})
	}
	if len(operators) == 0 {
		logr.Warn("no operators configured, authenticated endpoints are unreachable")
	}
	authSvc := service.NewAuthService(operators, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.Auth.SingleSession,
	})

	var reportSvc *service.ReportService
	if cfg.Reports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportSvc := service.NewExportService(rotationSvc, rotationSvc, store, signer,
			service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.SignedURLTTL},
			logr, export.NewCSVExporter(), export.NewPDFExporter())

		worker := service.NewReportWorker(reportJobRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		reportSvc = service.NewReportService(reportJobRepo, queue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)
	}

	if cfg.Retention.Enabled {
		retCfg := service.RetentionConfig{
			Schedule:  cfg.Retention.Schedule,
			MaxAge:    cfg.Retention.MaxAge,
			KeepCount: cfg.Retention.KeepCount,
		}
		var retentionSvc *service.RetentionService
		if reportSvc != nil {
			retentionSvc = service.NewRetentionService(versionRepo, reportSvc, auditRepo, cacheSvc, logr, retCfg)
		} else {
			retentionSvc = service.NewRetentionService(versionRepo, nil, auditRepo, cacheSvc, logr, retCfg)
		}
		if err := retentionSvc.Start(); err != nil {
			logr.Sugar().Fatalw("failed to start retention sweeper", "error", err)
		}
		defer retentionSvc.Stop()
	}

	var seed json.RawMessage
	if cfg.Schedule.SeedPath != "" {
		raw, err := os.ReadFile(cfg.Schedule.SeedPath)
		if err != nil {
			logr.Warn("seed schedule unreadable", zap.String("path", cfg.Schedule.SeedPath), zap.Error(err))
		} else {
			seed = raw
		}
	}
	bootCtx, cancelBoot := context.WithTimeout(ctx, 30*time.Second)
	err = rotationSvc.Bootstrap(bootCtx, seed)
	cancelBoot()
	if err != nil {
		logr.Sugar().Fatalw("schedule bootstrap failed", "error", err)
	}

	emitters := []player.Emitter{player.NewLogEmitter(logr)}
	if cfg.Events.RedisEnabled {
		emitters = append(emitters, player.NewRedisEmitter(cacheRepo, cfg.Events.RedisChannel))
	}
	if cfg.MQTT.Enabled {
		client := player.NewMQTTClient(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID)
		if err := player.ConnectMQTT(client, cfg.MQTT.ConnectTimeout); err != nil {
			// The client keeps retrying in the background.
			logr.Warn("mqtt connect failed", zap.String("broker", cfg.MQTT.BrokerURL), zap.Error(err))
		}
		emitters = append(emitters, player.NewMQTTEmitter(client, cfg.MQTT.Topic, 1, cfg.MQTT.ConnectTimeout))
	}
	emitter := player.NewFanoutEmitter(logr, emitters...)
	defer emitter.Close() //nolint:errcheck

	pl := player.New(rotationSvc, emitter, logr, player.Config{
		Interval:    cfg.Player.Interval,
		IdleBackoff: cfg.Player.IdleBackoff,
	})
	if cfg.Player.Enabled {
		go func() {
			if err := pl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("player stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Schedule.Watch && cfg.Schedule.SeedPath != "" {
		w, err := watcher.New(kickingProposer{svc: rotationSvc, player: pl}, logr, watcher.Config{
			Path:     cfg.Schedule.SeedPath,
			Debounce: cfg.Schedule.WatchDebounce,
		})
		if err != nil {
			logr.Warn("schedule watcher disabled", zap.Error(err))
		} else {
			w.Prime()
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logr.Error("schedule watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	ready := func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}

	r := newRouter(cfg, logr, authSvc, metricsSvc, auditRepo, ready, routeHandlers{
		auth:     handler.NewAuthHandler(authSvc),
		schedule: handler.NewScheduleHandler(rotationSvc),
		versions: handler.NewVersionHandler(rotationSvc),
		rotation: handler.NewRotationHandler(pl),
		reports:  newReportHandler(reportSvc),
		audit:    handler.NewAuditHandler(auditRepo),
		metrics:  handler.NewMetricsHandler(metricsSvc),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("forced shutdown", zap.Error(err))
	}
}

func newReportHandler(svc *service.ReportService) *handler.ReportHandler {
	if svc == nil {
		return nil
	}
	return handler.NewReportHandler(svc)
}

// kickingProposer wakes the player after a file-driven commit, so an idle
// rotation shows the new schedule without waiting out the backoff.
type kickingProposer struct {
	svc    *service.RotationService
	player *player.Player
}

func (p kickingProposer) Propose(ctx context.Context, req dto.ProposeScheduleRequest, actor string) (*dto.ScheduleVersionResponse, error) {
	resp, err := p.svc.Propose(ctx, req, actor)
	if err == nil {
		p.player.Kick()
	}
	return resp, err
}

type routeHandlers struct {
	auth     *handler.AuthHandler
	schedule *handler.ScheduleHandler
	versions *handler.VersionHandler
	rotation *handler.RotationHandler
	reports  *handler.ReportHandler
	audit    *handler.AuditHandler
	metrics  *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, authSvc *service.AuthService, metricsSvc *service.MetricsService, auditRepo *repository.AuditRepository, ready gin.HandlerFunc, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", ready)

	if cfg.Metrics.Enabled {
		r.GET("/metrics", h.metrics.Prometheus)
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	{
		auth.POST("/login", h.auth.Login)
		auth.POST("/refresh", h.auth.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), h.auth.Logout)
		auth.GET("/me", middleware.JWT(authSvc), h.auth.Me)
	}

	// Displays poll the current screen without credentials.
	rotation := api.Group("/rotation")
	{
		rotation.GET("/current", h.rotation.Current)
		rotation.POST("/skip", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), h.rotation.Skip)
	}

	schedule := api.Group("/schedule", middleware.JWT(authSvc))
	{
		schedule.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleViewer), h.schedule.GetActive)
		schedule.PUT("", middleware.RequireRoles(models.RoleAdmin), h.schedule.Propose)
		schedule.GET("/export", middleware.RequireRoles(models.RoleAdmin, models.RoleViewer), h.schedule.Export)
		schedule.POST("/preview", middleware.RequireRoles(models.RoleAdmin, models.RoleViewer), h.schedule.Preview)

		versions := schedule.Group("/versions")
		versions.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleViewer), h.versions.List)
		versions.GET("/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleViewer), h.versions.Get)
		versions.POST("/:id/rollback", middleware.RequireRoles(models.RoleAdmin), h.versions.Rollback)
		versions.PUT("/:id/pin", middleware.RequireRoles(models.RoleAdmin), h.versions.Pin)
	}

	api.GET("/audit", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), h.audit.List)
	api.GET("/system/metrics", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleViewer), h.metrics.Snapshot)

	if h.reports != nil {
		reports := api.Group("/reports", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleViewer))
		reports.POST("/generate", middleware.Audit(auditRepo, "report.generate", "report"), h.reports.GenerateReport)
		reports.GET("/:id", h.reports.ReportStatus)
		// Download links are signed; the token is the credential.
		api.GET("/export/:token", h.reports.DownloadReport)
	}

	return r
}
