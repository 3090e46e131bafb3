package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	experimentapp "github.com/oks-citadel/citadelbuy-sub019/internal/application/experiment"
	featureflagapp "github.com/oks-citadel/citadelbuy-sub019/internal/application/featureflag"
	"github.com/oks-citadel/citadelbuy-sub019/internal/domain/experiment"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/cache"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/config"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/logger"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/persistence"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/scheduler"
	"github.com/oks-citadel/citadelbuy-sub019/internal/infrastructure/telemetry"
	"github.com/oks-citadel/citadelbuy-sub019/internal/interfaces/http/handler"
	"github.com/oks-citadel/citadelbuy-sub019/internal/interfaces/http/middleware"
	"github.com/oks-citadel/citadelbuy-sub019/internal/interfaces/http/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer log.Sync() //nolint:errcheck

	log.Info("starting experiment engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown tracer provider", zap.Error(err))
		}
	}()

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if tracerProvider.IsEnabled() {
		if err := db.EnableTracing(); err != nil {
			log.Fatal("failed to enable database tracing", zap.Error(err))
		}
	}

	redisCache, err := cache.NewRedisCache(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cache.WithRedisTTL(cfg.Cache.Tier2TTL), cache.WithRedisLogger(log))
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	memoryCache := cache.NewMemoryCache(
		cache.WithMemoryTTL(cfg.Cache.Tier1TTL),
		cache.WithMemorySweepInterval(cfg.Cache.SweepInterval),
		cache.WithMemoryLogger(log),
	)
	tieredCache := cache.NewTieredCache(memoryCache, redisCache, cache.WithTieredLogger(log))
	domainCache := cache.NewDomainCache(tieredCache, cache.WithDomainCacheLogger(log))
	defer domainCache.Close()

	// Repositories
	experimentRepo := persistence.NewGormExperimentRepository(db.DB)
	assignmentRepo := persistence.NewGormAssignmentRepository(db.DB)
	flagRepo := persistence.NewGormFeatureFlagRepository(db.DB)

	// Domain engine and application services
	engine := experiment.NewEngine(experimentRepo, assignmentRepo, domainCache,
		experiment.WithEngineLogger(log))

	experimentService := experimentapp.NewExperimentService(experimentRepo, domainCache, log)
	assignmentService := experimentapp.NewAssignmentService(engine, log)
	flagService := featureflagapp.NewFlagService(flagRepo, domainCache, log)
	evaluationService := featureflagapp.NewEvaluationService(flagRepo, domainCache, cfg.App.Environment, log)

	// Background cache refresh keeps the tiered cache warm so evaluation
	// stays off the database on the hot path.
	refreshScheduler := scheduler.NewRefreshScheduler(experimentRepo, flagRepo, domainCache, log,
		scheduler.RefreshSchedulerConfig{
			Enabled:  cfg.Refresh.Enabled,
			Interval: cfg.Refresh.Interval,
		})
	if err := refreshScheduler.Start(ctx); err != nil {
		log.Fatal("failed to start refresh scheduler", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := refreshScheduler.Stop(stopCtx); err != nil {
			log.Error("failed to stop refresh scheduler", zap.Error(err))
		}
	}()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := gin.New()
	if err := ginEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("failed to set trusted proxies", zap.Error(err))
	}

	ginEngine.Use(middleware.RequestID())
	ginEngine.Use(logger.Recovery(log))
	ginEngine.Use(logger.GinMiddleware(log))
	if tracerProvider.IsEnabled() {
		ginEngine.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}

	router.NewRouter(ginEngine).
		Register(handler.NewExperimentHandler(experimentService, assignmentService)).
		Register(handler.NewFeatureFlagHandler(flagService, evaluationService)).
		Register(handler.NewSystemHandler(map[string]handler.Pinger{
			"database": db,
			"redis":    redisCache,
		})).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
