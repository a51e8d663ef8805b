package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyroid/backend/internal/cache"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/runtime"
	"go.uber.org/zap"
)

// OrphanSweepTask 清理运行时中存在但数据库中已没有记录的靶场
//
// 实例删除时的拆除请求可能丢失，这里定期补发。
type OrphanSweepTask struct {
	ranges     repository.RangeRepository
	runtime    runtime.Runtime
	dispatcher provisioning.Dispatcher
	locker     lock.Locker
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewOrphanSweepTask 创建孤儿清理任务
func NewOrphanSweepTask(
	ranges repository.RangeRepository,
	rt runtime.Runtime,
	dispatcher provisioning.Dispatcher,
	locker lock.Locker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OrphanSweepTask {
	return &OrphanSweepTask{
		ranges:     ranges,
		runtime:    rt,
		dispatcher: dispatcher,
		locker:     locker,
		metrics:    m,
		logger:     logger,
	}
}

// Run 执行一次清理，多个worker同时运行时只有一个执行
func (t *OrphanSweepTask) Run(ctx context.Context) error {
	release, err := t.locker.Acquire(ctx, cache.KeySweepLock)
	if errors.Is(err, lock.ErrOperationInProgress) {
		t.logger.Debug("Orphan sweep already running elsewhere")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			t.logger.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()

	ids, err := t.runtime.ListRangeIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runtime ranges: %w", err)
	}

	existing, err := t.ranges.ExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to look up ranges: %w", err)
	}

	swept := 0
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			continue
		}
		if err := t.dispatcher.EnqueueTeardown(ctx, id); err != nil {
			t.logger.Warn("Failed to request orphan teardown",
				zap.String("range_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		swept++
		t.metrics.OrphansSwept.Inc()
	}

	t.logger.Info("Orphan sweep completed",
		zap.Int("runtime_ranges", len(ids)),
		zap.Int("orphans", swept),
	)
	return nil
}
