package tasks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyroid/backend/internal/config"
	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/runtime"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// 出队出错后的等待时间
	dequeueBackoff = time.Second
	laneBuffer     = 16
)

// JobSource 任务来源
type JobSource interface {
	Dequeue(ctx context.Context) (*provisioning.Job, error)
	Len(ctx context.Context) (int64, error)
}

// ProvisionConsumer 消费部署队列并调用运行时
//
// 单个出队循环按range_id把任务分到固定的处理通道，
// 同一靶场的任务按入队顺序串行执行，不同靶场之间并行。
type ProvisionConsumer struct {
	source  JobSource
	ranges  repository.RangeRepository
	runtime runtime.Runtime
	pool    *ants.Pool
	lanes   []chan provisioning.Job
	metrics *metrics.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewProvisionConsumer 创建部署任务消费者（Fx兼容）
func NewProvisionConsumer(
	queue *provisioning.RedisQueue,
	ranges repository.RangeRepository,
	rt runtime.Runtime,
	pool *ants.Pool,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ProvisionConsumer {
	return newConsumer(queue, ranges, rt, pool, cfg.Provisioning.Workers, m, logger)
}

func newConsumer(source JobSource, ranges repository.RangeRepository, rt runtime.Runtime, pool *ants.Pool, workers int, m *metrics.Metrics, logger *zap.Logger) *ProvisionConsumer {
	if workers <= 0 {
		workers = 1
	}
	lanes := make([]chan provisioning.Job, workers)
	for i := range lanes {
		lanes[i] = make(chan provisioning.Job, laneBuffer)
	}

	return &ProvisionConsumer{
		source:  source,
		ranges:  ranges,
		runtime: rt,
		pool:    pool,
		lanes:   lanes,
		metrics: m,
		logger:  logger,
	}
}

// Start 启动处理通道和出队循环，ctx取消后出队循环退出，处理中的任务会执行完
func (c *ProvisionConsumer) Start(ctx context.Context) error {
	for i := range c.lanes {
		lane := c.lanes[i]
		if err := c.submit(func() { c.runLane(ctx, lane) }); err != nil {
			return err
		}
	}

	if err := c.submit(func() { c.dispatchLoop(ctx) }); err != nil {
		return err
	}

	c.logger.Info("Provisioning consumer started", zap.Int("lanes", len(c.lanes)))
	return nil
}

// Wait 等待出队循环和全部处理通道退出
func (c *ProvisionConsumer) Wait() {
	c.wg.Wait()
}

func (c *ProvisionConsumer) submit(fn func()) error {
	c.wg.Add(1)
	if err := c.pool.Submit(func() {
		defer c.wg.Done()
		fn()
	}); err != nil {
		c.wg.Done()
		return fmt.Errorf("failed to submit consumer goroutine: %w", err)
	}
	return nil
}

func (c *ProvisionConsumer) dispatchLoop(ctx context.Context) {
	defer func() {
		for _, lane := range c.lanes {
			close(lane)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := c.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, provisioning.ErrMalformedJob) {
				c.logger.Warn("Dropped malformed provisioning job", zap.Error(err))
				c.metrics.JobsProcessed.WithLabelValues("malformed", "error").Inc()
				continue
			}

			c.logger.Error("Failed to dequeue provisioning job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		if depth, err := c.source.Len(ctx); err == nil {
			c.metrics.QueueDepth.Set(float64(depth))
		}

		select {
		case c.lanes[laneFor(job.RangeID, len(c.lanes))] <- *job:
		case <-ctx.Done():
			c.logger.Warn("Shutdown before provisioning job was handed off",
				zap.String("kind", string(job.Kind)),
				zap.String("range_id", job.RangeID.String()),
			)
			return
		}
	}
}

func (c *ProvisionConsumer) runLane(ctx context.Context, lane <-chan provisioning.Job) {
	// 关闭时让已出队的任务执行完
	jobCtx := context.WithoutCancel(ctx)
	for job := range lane {
		_ = c.Handle(jobCtx, job)
	}
}

// laneFor 同一range_id总是落在同一通道
func laneFor(id uuid.UUID, n int) int {
	return int(binary.BigEndian.Uint32(id[12:]) % uint32(n))
}

// Handle 执行单个任务
func (c *ProvisionConsumer) Handle(ctx context.Context, job provisioning.Job) (err error) {
	start := time.Now()
	log := c.logger.With(
		zap.String("kind", string(job.Kind)),
		zap.String("range_id", job.RangeID.String()),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Provisioning job panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("provisioning job panicked: %v", r)
		}
		c.metrics.RecordJob(string(job.Kind), err, time.Since(start))
	}()

	switch job.Kind {
	case provisioning.JobDeploy:
		err = c.deploy(ctx, job.RangeID, log)
	case provisioning.JobTeardown:
		err = c.teardown(ctx, job.RangeID, log)
	default:
		err = fmt.Errorf("%w: unknown kind %q", provisioning.ErrMalformedJob, job.Kind)
	}

	if err != nil {
		log.Error("Provisioning job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	log.Info("Provisioning job completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func (c *ProvisionConsumer) deploy(ctx context.Context, rangeID uuid.UUID, log *zap.Logger) error {
	rng, err := c.ranges.FindWithResources(ctx, rangeID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Info("Range no longer exists, skipping deployment")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load range: %w", err)
	}

	c.setStatus(ctx, rangeID, domain.RangeStatusDeploying, "", log)

	if err := c.runtime.Provision(ctx, runtime.SpecFromRange(rng)); err != nil {
		c.setStatus(ctx, rangeID, domain.RangeStatusError, err.Error(), log)
		return err
	}

	c.setStatus(ctx, rangeID, domain.RangeStatusRunning, "", log)
	return nil
}

func (c *ProvisionConsumer) teardown(ctx context.Context, rangeID uuid.UUID, log *zap.Logger) error {
	if err := c.runtime.Destroy(ctx, rangeID); err != nil {
		c.setStatus(ctx, rangeID, domain.RangeStatusError, err.Error(), log)
		return err
	}

	c.setStatus(ctx, rangeID, domain.RangeStatusStopped, "", log)
	return nil
}

// setStatus 靶场已被删除时忽略
func (c *ProvisionConsumer) setStatus(ctx context.Context, rangeID uuid.UUID, status domain.RangeStatus, message string, log *zap.Logger) {
	err := c.ranges.UpdateStatus(ctx, rangeID, status, message)
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	log.Warn("Failed to update range status",
		zap.String("status", string(status)),
		zap.Error(err),
	)
}
