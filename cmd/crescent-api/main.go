package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/crescent-api/api/swagger"
	"github.com/noah-isme/crescent-api/internal/handler"
	internalmiddleware "github.com/noah-isme/crescent-api/internal/middleware"
	"github.com/noah-isme/crescent-api/internal/repository"
	"github.com/noah-isme/crescent-api/internal/service"
	"github.com/noah-isme/crescent-api/pkg/cache"
	"github.com/noah-isme/crescent-api/pkg/config"
	"github.com/noah-isme/crescent-api/pkg/database"
	"github.com/noah-isme/crescent-api/pkg/logger"
	"github.com/noah-isme/crescent-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/crescent-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/crescent-api/pkg/middleware/requestid"
	"github.com/noah-isme/crescent-api/pkg/telemetry"
)

// @title Crescent API
// @version 1.0.0
// @description Parent and scholar account linking for the Crescent app
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

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := database.NewMigrator(db)
		if err != nil {
			return err
		}
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logr.Info("database migrated")
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache and verify throttle", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logr.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logr.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	mail, err := mailer.New(cfg.Mail, logr)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Links.StatsCacheTTL, logr, cfg.Links.StatsCacheEnable)

	userRepo := repository.NewUserRepository(db)
	linkRepo := repository.NewScholarLinkRepository(db)
	attemptRepo := repository.NewAttemptRepository(redisClient)

	notifier := service.NewNotificationService(mail, metrics, logr, cfg.Notify)
	notifier.Start(ctx)
	defer notifier.Stop()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	linkSvc := service.NewScholarLinkService(linkRepo, userRepo, attemptRepo, notifier, cacheSvc, metrics, validate, logr, service.ScholarLinkConfig{
		CodeTTL:        cfg.Links.CodeTTL,
		MaxVerifyFails: cfg.Links.MaxVerifyFails,
		AttemptWindow:  cfg.Links.AttemptWindow,
		StatsCacheTTL:  cfg.Links.StatsCacheTTL,
	})

	sweeper := service.NewExpirySweeper(linkRepo, userRepo, cacheSvc, metrics, logr, cfg.Links.SweepInterval)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweeper.Start(sweepCtx)
	defer func() {
		stopSweep()
		sweeper.Wait()
	}()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	checks := map[string]handler.Pinger{"database": db.PingContext}
	if redisClient != nil {
		checks["redis"] = pingRedis(redisClient)
	}

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Auth:    handler.NewAuthHandler(authSvc),
		Links:   handler.NewScholarLinkHandler(linkSvc),
		Metrics: handler.NewMetricsHandler(metrics, checks),
	}, authSvc)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func pingRedis(client *redis.Client) handler.Pinger {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
