package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cyroid/backend/cmd/background-worker/internal/tasks"
	"github.com/cyroid/backend/internal/cache"
	"github.com/cyroid/backend/internal/config"
	"github.com/cyroid/backend/internal/database"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/logger"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/runtime"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
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
			repository.NewRangeRepository,
		),

		// 基础设施
		fx.Provide(
			metrics.NewMetrics,
			runtime.NewRuntime,
			provisioning.NewRedisQueue,
			provisioning.NewDispatcher,
			NewSweepLocker,
			NewWorkerPool,
		),

		// 后台任务
		fx.Provide(
			tasks.NewProvisionConsumer,
			tasks.NewOrphanSweepTask,
		),

		fx.Invoke(closeConnections),
		fx.Invoke(runMetricsServer),

		// 启动后台工作器
		fx.Invoke(runBackgroundWorker),
	)

	app.Run()
}

// NewSweepLocker 孤儿清理使用的分布式锁
func NewSweepLocker(client *redis.Client, log *zap.Logger) lock.Locker {
	return lock.New(client, cache.TTLSweepLock, log)
}

// NewWorkerPool 创建协程池：每个处理通道一个，外加出队循环
func NewWorkerPool(cfg *config.Config, log *zap.Logger) (*ants.Pool, error) {
	panicHandler := func(p interface{}) {
		log.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	return ants.NewPool(cfg.Provisioning.Workers+1,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
	)
}

// closeConnections 停止时关闭数据库和Redis连接
func closeConnections(lifecycle fx.Lifecycle, db *gorm.DB, rdb *redis.Client) {
	lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return errors.Join(database.Close(db), rdb.Close())
		},
	})
}

// runMetricsServer 暴露 /metrics 和 /health
func runMetricsServer(lifecycle fx.Lifecycle, log *zap.Logger, cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("Metrics server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

// runBackgroundWorker 运行后台工作器
func runBackgroundWorker(
	lifecycle fx.Lifecycle,
	log *zap.Logger,
	cfg *config.Config,
	pool *ants.Pool,
	consumer *tasks.ProvisionConsumer,
	sweep *tasks.OrphanSweepTask,
) {
	ctx, cancel := context.WithCancel(context.Background())

	c := cron.New()

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("Starting Background Worker")

			if cfg.Sweep.Enabled {
				if _, err := c.AddFunc(cfg.Sweep.Schedule, func() {
					if err := sweep.Run(ctx); err != nil {
						log.Error("Orphan sweep task failed", zap.Error(err))
					}
				}); err != nil {
					cancel()
					return fmt.Errorf("invalid sweep schedule %q: %w", cfg.Sweep.Schedule, err)
				}
			}

			if err := consumer.Start(ctx); err != nil {
				cancel()
				return err
			}

			c.Start()

			log.Info("Background worker started",
				zap.Int("workers", cfg.Provisioning.Workers),
				zap.Bool("orphan_sweep", cfg.Sweep.Enabled),
			)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			log.Info("Shutting down Background Worker")
			cancel()
			<-c.Stop().Done()

			done := make(chan struct{})
			go func() {
				consumer.Wait()
				close(done)
			}()

			select {
			case <-done:
			case <-stopCtx.Done():
				log.Warn("Timed out waiting for provisioning jobs to finish")
			}

			pool.Release()
			log.Info("Background worker stopped")
			return nil
		},
	})
}
