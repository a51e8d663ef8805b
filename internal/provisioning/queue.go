// Package provisioning 靶场基础设施的异步部署与销毁请求
//
// 控制面只负责入队，实际的部署由 background-worker 消费队列后调用运行时完成。
// 投递语义为至少一次，消费方需保证部署/销毁幂等。
package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyroid/backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMalformedJob 队列中的任务无法解析
var ErrMalformedJob = errors.New("malformed provisioning job")

// JobKind 任务类型
type JobKind string

const (
	JobDeploy   JobKind = "deploy"
	JobTeardown JobKind = "teardown"
)

// Job 队列任务
type Job struct {
	Kind       JobKind   `json:"kind"`
	RangeID    uuid.UUID `json:"range_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Dispatcher 部署请求投递接口
type Dispatcher interface {
	EnqueueDeploy(ctx context.Context, rangeID uuid.UUID) error
	EnqueueTeardown(ctx context.Context, rangeID uuid.UUID) error
}

// RedisQueue 基于Redis列表的任务队列：LPUSH 入队，BRPOP 出队
type RedisQueue struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
	logger       *zap.Logger
}

// NewRedisQueue 创建任务队列（Fx兼容）
func NewRedisQueue(client *redis.Client, cfg *config.Config, logger *zap.Logger) *RedisQueue {
	return NewQueue(client, cfg.Provisioning.QueueKey, cfg.Provisioning.BlockTimeout, logger)
}

// NewQueue 创建任务队列
func NewQueue(client *redis.Client, key string, blockTimeout time.Duration, logger *zap.Logger) *RedisQueue {
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	return &RedisQueue{
		client:       client,
		key:          key,
		blockTimeout: blockTimeout,
		logger:       logger,
	}
}

// NewDispatcher 以队列作为投递实现（Fx兼容）
func NewDispatcher(q *RedisQueue) Dispatcher {
	return q
}

// EnqueueDeploy 请求部署靶场
func (q *RedisQueue) EnqueueDeploy(ctx context.Context, rangeID uuid.UUID) error {
	return q.Enqueue(ctx, Job{Kind: JobDeploy, RangeID: rangeID})
}

// EnqueueTeardown 请求销毁靶场
func (q *RedisQueue) EnqueueTeardown(ctx context.Context, rangeID uuid.UUID) error {
	return q.Enqueue(ctx, Job{Kind: JobTeardown, RangeID: rangeID})
}

// Enqueue 入队
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s job for range %s: %w", job.Kind, job.RangeID, err)
	}

	q.logger.Debug("Provisioning job enqueued",
		zap.String("kind", string(job.Kind)),
		zap.String("range_id", job.RangeID.String()),
	)
	return nil
}

// Dequeue 阻塞等待下一个任务，超时返回 (nil, nil)
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	// BRPOP 返回 [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("%w: unexpected reply length %d", ErrMalformedJob, len(result))
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.Kind != JobDeploy && job.Kind != JobTeardown {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, job.Kind)
	}

	return &job, nil
}

// Len 队列长度
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
