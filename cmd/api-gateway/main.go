package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cyroid/backend/cmd/api-gateway/internal/handler"
	"github.com/cyroid/backend/cmd/api-gateway/internal/middleware"
	"github.com/cyroid/backend/cmd/api-gateway/internal/router"
	"github.com/cyroid/backend/internal/audit"
	"github.com/cyroid/backend/internal/auth"
	"github.com/cyroid/backend/internal/cache"
	"github.com/cyroid/backend/internal/config"
	"github.com/cyroid/backend/internal/database"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/logger"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	app := fx.New(
		// 配置模块
		fx.Provide(
			config.LoadConfig,
			logger.NewLogger,
		),

		// 数据库模块
		fx.Provide(
			database.NewPostgresDB,
			cache.NewRedisClient,
		),

		// 仓储层
		fx.Provide(
			repository.NewTxManager,
			repository.NewBlueprintRepository,
			repository.NewRangeRepository,
			repository.NewRangeInstanceRepository,
			repository.NewAuditLogRepository,
		),

		// 基础设施
		fx.Provide(
			metrics.NewMetrics,
			fx.Annotate(lock.NewRedisLocker, fx.As(new(lock.Locker))),
			provisioning.NewRedisQueue,
			provisioning.NewDispatcher,
		),

		// 认证与审计
		fx.Provide(
			auth.NewJWTManagerFromConfig,
			auth.NewMiddleware,
			audit.NewAuditMiddleware,
		),

		// 服务层
		fx.Provide(
			service.NewMaterializer,
			service.NewInstanceService,
			service.NewBlueprintService,
		),

		// 处理器层
		fx.Provide(
			handler.NewBlueprintHandler,
			handler.NewInstanceHandler,
			handler.NewAuditHandler,
			middleware.NewRateLimiter,
		),

		// HTTP路由器
		fx.Provide(
			router.SetupRouter,
		),

		fx.Invoke(loadSeedBlueprints),
		fx.Invoke(closeConnections),

		// HTTP服务器
		fx.Invoke(runHTTPServer),
	)

	app.Run()
}

// loadSeedBlueprints 启动时加载内置蓝图，失败不阻止启动
func loadSeedBlueprints(lifecycle fx.Lifecycle, log *zap.Logger, cfg *config.Config, blueprints *service.BlueprintService) {
	if cfg.Seed.Dir == "" {
		return
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := blueprints.SeedFromDirectory(ctx, cfg.Seed.Dir); err != nil {
				log.Error("Some seed blueprints could not be loaded", zap.Error(err))
			}
			return nil
		},
	})
}

// closeConnections 停止时关闭数据库和Redis连接
func closeConnections(lifecycle fx.Lifecycle, log *zap.Logger, db *gorm.DB, rdb *redis.Client) {
	lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return errors.Join(database.Close(db), rdb.Close())
		},
	})
}

// runHTTPServer 启动HTTP服务器
func runHTTPServer(
	lifecycle fx.Lifecycle,
	shutdowner fx.Shutdowner,
	log *zap.Logger,
	cfg *config.Config,
	router *gin.Engine,
) {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting API Gateway",
				zap.String("addr", server.Addr),
			)

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("HTTP server stopped unexpectedly", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down API Gateway")

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to gracefully shutdown server", zap.Error(err))
				return err
			}

			log.Info("API Gateway stopped")
			return nil
		},
	})
}
