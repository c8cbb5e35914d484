package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	_ "github.com/noah-isme/course-enrollment-api/api/swagger"
	"github.com/noah-isme/course-enrollment-api/internal/handler"
	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/repository"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	"github.com/noah-isme/course-enrollment-api/pkg/cache"
	"github.com/noah-isme/course-enrollment-api/pkg/config"
	"github.com/noah-isme/course-enrollment-api/pkg/database"
	"github.com/noah-isme/course-enrollment-api/pkg/jobs"
	"github.com/noah-isme/course-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-enrollment-api/pkg/middleware/requestid"
)

// @title Course Enrollment Admin API
// @version 1.0.0
// @description Administrative enrollment status transitions with capacity enforcement
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, capacity cache disabled", zap.Error(err))
		redisClient = nil
	}

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	quotaRepo := repository.NewRegionQuotaRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Capacity.CacheTTL, logr, cfg.Capacity.CacheEnabled && redisClient != nil)
	capacitySvc := service.NewCapacityService(courseRepo, quotaRepo, enrollmentRepo, auditRepo, db, cacheSvc, cfg.Capacity.CacheTTL, logr)

	var limiter *rate.Limiter
	if cfg.Notifications.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Notifications.RatePerSecond), cfg.Notifications.Burst)
	}
	var worker *service.NotificationWorker
	if cfg.Notifications.WebhookURL != "" {
		sender := service.NewWebhookNotificationSender(service.WebhookConfig{
			URL:     cfg.Notifications.WebhookURL,
			Token:   cfg.Notifications.WebhookToken,
			Timeout: cfg.Notifications.WebhookTimeout,
		})
		worker = service.NewNotificationWorker(notificationRepo, sender, limiter, metricsSvc, logr)
	} else {
		worker = service.NewNotificationWorker(notificationRepo, nil, nil, metricsSvc, logr)
	}

	notificationQueue := jobs.NewQueue("notifications", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
		OnDrop:     worker.HandleDrop,
	})
	notificationQueue.Start(context.Background())
	defer notificationQueue.Stop()

	notificationSvc := service.NewNotificationService(notificationQueue, metricsSvc, logr, cfg.Notifications.Enabled)
	transitionSvc := service.NewEnrollmentTransitionService(
		enrollmentRepo,
		courseRepo,
		quotaRepo,
		auditRepo,
		db,
		notificationSvc,
		capacitySvc,
		metricsSvc,
		validator.New(),
		logr,
		service.TransitionConfig{Timeout: cfg.Transitions.Timeout, LinkBaseURL: cfg.Notifications.LinkBaseURL},
	)
	querySvc := service.NewEnrollmentQueryService(enrollmentRepo, courseRepo, logr)
	authSvc := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	enrollmentHandler := handler.NewEnrollmentHandler(querySvc, transitionSvc)
	capacityHandler := handler.NewCapacityHandler(capacitySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := r.Group(cfg.APIPrefix)
	admin.Use(middleware.WithResponseMeta())
	admin.Use(middleware.JWT(authSvc))
	admin.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	{
		courses := admin.Group("/courses/:courseId")
		courses.GET("/enrollments", enrollmentHandler.List)
		courses.PATCH("/enrollments/:id/status", enrollmentHandler.Transition)
		courses.GET("/capacity", capacityHandler.Summary)
		courses.POST("/capacity/reconcile", capacityHandler.Reconcile)

		admin.GET("/metrics/summary", metricsHandler.Summary)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logr.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
