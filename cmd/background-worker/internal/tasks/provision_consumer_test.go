package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/runtime"
	"github.com/cyroid/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chanSource 从channel出队，队列空时阻塞到ctx取消
type chanSource struct {
	jobs chan provisioning.Job
}

func (s *chanSource) Dequeue(ctx context.Context) (*provisioning.Job, error) {
	select {
	case job := <-s.jobs:
		return &job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chanSource) Len(ctx context.Context) (int64, error) {
	return int64(len(s.jobs)), nil
}

type failingRuntime struct {
	*runtime.DryRun
	err error
}

func (f *failingRuntime) Provision(ctx context.Context, spec *runtime.RangeSpec) error {
	return f.err
}

func (f *failingRuntime) Destroy(ctx context.Context, rangeID uuid.UUID) error {
	return f.err
}

func newPool(t *testing.T, size int) *ants.Pool {
	t.Helper()
	pool, err := ants.NewPool(size)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

// seedRange 写入一个带网络和虚拟机的靶场
func seedRange(t *testing.T, ranges repository.RangeRepository) *domain.Range {
	t.Helper()
	ctx := context.Background()

	rng := &domain.Range{Name: "lab #1", Status: domain.RangeStatusDeploying, RouterEnabled: true}
	require.NoError(t, ranges.Create(ctx, rng))

	netID := uuid.New()
	require.NoError(t, ranges.CreateNetworks(ctx, []domain.Network{
		{ID: netID, RangeID: rng.ID, Name: "dmz", Subnet: "10.101.1.0/24", Gateway: "10.101.1.1"},
	}))
	imageID := uuid.New()
	require.NoError(t, ranges.CreateVMs(ctx, []domain.VM{
		{RangeID: rng.ID, NetworkID: netID, Hostname: "web", IPAddress: "10.101.1.10", CPU: 2, RAMMB: 2048, DiskGB: 40, BaseImageID: &imageID},
	}))
	return rng
}

func newTestConsumer(t *testing.T, source JobSource, rt runtime.Runtime, workers int) (*ProvisionConsumer, repository.RangeRepository) {
	t.Helper()
	ranges := repository.NewRangeRepository(testutil.NewTestDB(t))
	c := newConsumer(source, ranges, rt, newPool(t, workers+1), workers, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	return c, ranges
}

func TestHandle_DeployMarksRunning(t *testing.T) {
	rt := runtime.NewDryRun(zap.NewNop())
	c, ranges := newTestConsumer(t, &chanSource{}, rt, 1)
	rng := seedRange(t, ranges)

	err := c.Handle(context.Background(), provisioning.Job{Kind: provisioning.JobDeploy, RangeID: rng.ID})
	require.NoError(t, err)

	got, err := ranges.FindByID(context.Background(), rng.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RangeStatusRunning, got.Status)

	spec, ok := rt.Spec(rng.ID)
	require.True(t, ok)
	assert.True(t, spec.RouterEnabled)
	require.Len(t, spec.Networks, 1)
	require.Len(t, spec.VMs, 1)
	assert.Equal(t, "10.101.1.10", spec.VMs[0].IPAddress)
	assert.Equal(t, spec.Networks[0].ID, spec.VMs[0].NetworkID)
}

func TestHandle_TeardownMarksStopped(t *testing.T) {
	rt := runtime.NewDryRun(zap.NewNop())
	c, ranges := newTestConsumer(t, &chanSource{}, rt, 1)
	rng := seedRange(t, ranges)
	ctx := context.Background()

	require.NoError(t, c.Handle(ctx, provisioning.Job{Kind: provisioning.JobDeploy, RangeID: rng.ID}))
	require.NoError(t, c.Handle(ctx, provisioning.Job{Kind: provisioning.JobTeardown, RangeID: rng.ID}))

	got, err := ranges.FindByID(ctx, rng.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RangeStatusStopped, got.Status)

	_, ok := rt.Spec(rng.ID)
	assert.False(t, ok)
}

func TestHandle_DeletedRangeIsSkipped(t *testing.T) {
	rt := runtime.NewDryRun(zap.NewNop())
	c, _ := newTestConsumer(t, &chanSource{}, rt, 1)
	ctx := context.Background()
	missing := uuid.New()

	assert.NoError(t, c.Handle(ctx, provisioning.Job{Kind: provisioning.JobDeploy, RangeID: missing}))
	assert.NoError(t, c.Handle(ctx, provisioning.Job{Kind: provisioning.JobTeardown, RangeID: missing}))

	ids, err := rt.ListRangeIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHandle_RuntimeFailureMarksError(t *testing.T) {
	rt := &failingRuntime{DryRun: runtime.NewDryRun(zap.NewNop()), err: errors.New("agent returned 503")}
	c, ranges := newTestConsumer(t, &chanSource{}, rt, 1)
	rng := seedRange(t, ranges)
	ctx := context.Background()

	err := c.Handle(ctx, provisioning.Job{Kind: provisioning.JobDeploy, RangeID: rng.ID})
	require.Error(t, err)

	got, err := ranges.FindByID(ctx, rng.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RangeStatusError, got.Status)
	assert.Contains(t, got.StatusMessage, "503")
}

func TestHandle_UnknownKind(t *testing.T) {
	c, _ := newTestConsumer(t, &chanSource{}, runtime.NewDryRun(zap.NewNop()), 1)

	err := c.Handle(context.Background(), provisioning.Job{Kind: "reboot", RangeID: uuid.New()})
	assert.ErrorIs(t, err, provisioning.ErrMalformedJob)
}

func TestLaneFor_Deterministic(t *testing.T) {
	id := uuid.New()
	first := laneFor(id, 4)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, laneFor(id, 4))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 4)
	assert.Equal(t, 0, laneFor(id, 1))
}

func TestConsumer_ProcessesQueueInOrder(t *testing.T) {
	rt := runtime.NewDryRun(zap.NewNop())
	source := &chanSource{jobs: make(chan provisioning.Job, 8)}
	c, ranges := newTestConsumer(t, source, rt, 3)

	first := seedRange(t, ranges)
	second := seedRange(t, ranges)

	// 同一靶场的部署和销毁必须按顺序执行
	source.jobs <- provisioning.Job{Kind: provisioning.JobDeploy, RangeID: first.ID}
	source.jobs <- provisioning.Job{Kind: provisioning.JobDeploy, RangeID: second.ID}
	source.jobs <- provisioning.Job{Kind: provisioning.JobTeardown, RangeID: first.ID}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))

	status := func(id uuid.UUID) domain.RangeStatus {
		rng, err := ranges.FindByID(context.Background(), id)
		if err != nil {
			return ""
		}
		return rng.Status
	}

	require.Eventually(t, func() bool {
		return status(first.ID) == domain.RangeStatusStopped && status(second.ID) == domain.RangeStatusRunning
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	c.Wait()

	ids, err := rt.ListRangeIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{second.ID}, ids)
}
