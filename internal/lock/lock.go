// Package lock 基于Redis SET NX 的互斥锁
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyroid/backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrOperationInProgress 同一资源上已有操作在执行
var ErrOperationInProgress = errors.New("operation already in progress")

// releaseScript 只删除自己持有的锁，避免TTL过期后误删他人的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseFunc 释放锁
type ReleaseFunc func(ctx context.Context) error

// Locker 互斥锁
type Locker interface {
	// Acquire 获取锁，已被占用时返回 ErrOperationInProgress
	Acquire(ctx context.Context, key string) (ReleaseFunc, error)
}

// RedisLocker Redis实现
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker 创建实例操作锁（Fx兼容）
func NewRedisLocker(client *redis.Client, cfg *config.Config, logger *zap.Logger) *RedisLocker {
	return New(client, cfg.Provisioning.OperationLockTTL, logger)
}

// New 创建锁，ttl为锁的最长持有时间
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire 获取锁
func (l *RedisLocker) Acquire(ctx context.Context, key string) (ReleaseFunc, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationInProgress, key)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lock",
				zap.String("key", key),
				zap.Error(err),
			)
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}

	return release, nil
}
