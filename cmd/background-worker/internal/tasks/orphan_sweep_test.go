package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyroid/backend/internal/cache"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/runtime"
	"github.com/cyroid/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	teardowns []uuid.UUID
}

func (d *recordingDispatcher) EnqueueDeploy(ctx context.Context, rangeID uuid.UUID) error {
	return nil
}

func (d *recordingDispatcher) EnqueueTeardown(ctx context.Context, rangeID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardowns = append(d.teardowns, rangeID)
	return nil
}

type sweepFixture struct {
	task       *OrphanSweepTask
	ranges     repository.RangeRepository
	rt         *runtime.DryRun
	dispatcher *recordingDispatcher
	locker     *lock.RedisLocker
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	_, client := testutil.NewTestRedis(t)

	f := &sweepFixture{
		ranges:     repository.NewRangeRepository(testutil.NewTestDB(t)),
		rt:         runtime.NewDryRun(zap.NewNop()),
		dispatcher: &recordingDispatcher{},
		locker:     lock.New(client, time.Minute, zap.NewNop()),
	}
	f.task = NewOrphanSweepTask(f.ranges, f.rt, f.dispatcher, f.locker, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	return f
}

func TestOrphanSweep_TearsDownUnknownRanges(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()

	known := seedRange(t, f.ranges)
	orphan := uuid.New()
	require.NoError(t, f.rt.Provision(ctx, &runtime.RangeSpec{RangeID: known.ID}))
	require.NoError(t, f.rt.Provision(ctx, &runtime.RangeSpec{RangeID: orphan}))

	require.NoError(t, f.task.Run(ctx))
	assert.Equal(t, []uuid.UUID{orphan}, f.dispatcher.teardowns)

	// 锁已释放，可以再次执行
	require.NoError(t, f.task.Run(ctx))
	assert.Len(t, f.dispatcher.teardowns, 2)
}

func TestOrphanSweep_EmptyRuntime(t *testing.T) {
	f := newSweepFixture(t)

	require.NoError(t, f.task.Run(context.Background()))
	assert.Empty(t, f.dispatcher.teardowns)
}

func TestOrphanSweep_SkipsWhenLockHeld(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rt.Provision(ctx, &runtime.RangeSpec{RangeID: uuid.New()}))

	release, err := f.locker.Acquire(ctx, cache.KeySweepLock)
	require.NoError(t, err)
	defer release(ctx)

	require.NoError(t, f.task.Run(ctx))
	assert.Empty(t, f.dispatcher.teardowns)
}
