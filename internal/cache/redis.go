package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cyroid/backend/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 键前缀
const (
	// 实例操作锁（TTL: Provisioning.OperationLockTTL）
	KeyInstanceLock = "cyroid:lock:instance:"
	// 孤儿清理任务锁，多个worker只有一个执行
	KeySweepLock = "cyroid:lock:sweep"
	// 按客户端IP的限流计数（TTL: 1分钟窗口）
	KeyRateLimit = "cyroid:ratelimit:"
)

// 锁TTL策略
const (
	// 孤儿清理锁的持有时间，应短于清理周期
	TTLSweepLock = 5 * time.Minute
)

// NewRedisClient 创建Redis客户端（Fx兼容）
func NewRedisClient(cfg *config.Config, log *zap.Logger) (*redis.Client, error) {
	return New(&cfg.Redis, log)
}

// New 创建Redis客户端并检查连接
func New(cfg *config.RedisConfig, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis connected",
		zap.String("addr", cfg.Addr()),
		zap.Int("db", cfg.DB),
	)

	return client, nil
}

// InstanceLockKey 实例操作锁的键
func InstanceLockKey(instanceID string) string {
	return KeyInstanceLock + instanceID
}

// IncrementRateLimit 固定窗口计数，窗口内第一次计数时设置过期时间
func IncrementRateLimit(ctx context.Context, client *redis.Client, identifier string, window time.Duration) (int64, error) {
	key := KeyRateLimit + identifier

	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}
	return count, nil
}
