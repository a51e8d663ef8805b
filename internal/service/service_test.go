package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []provisioning.Job
	err  error
}

func (d *fakeDispatcher) EnqueueDeploy(ctx context.Context, rangeID uuid.UUID) error {
	return d.record(provisioning.JobDeploy, rangeID)
}

func (d *fakeDispatcher) EnqueueTeardown(ctx context.Context, rangeID uuid.UUID) error {
	return d.record(provisioning.JobTeardown, rangeID)
}

func (d *fakeDispatcher) record(kind provisioning.JobKind, rangeID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, provisioning.Job{Kind: kind, RangeID: rangeID})
	return nil
}

func (d *fakeDispatcher) kinds() []provisioning.JobKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]provisioning.JobKind, 0, len(d.jobs))
	for _, j := range d.jobs {
		out = append(out, j.Kind)
	}
	return out
}

type fixture struct {
	db         *gorm.DB
	blueprints repository.BlueprintRepository
	instances  repository.RangeInstanceRepository
	ranges     repository.RangeRepository
	dispatcher *fakeDispatcher
	locker     *lock.RedisLocker
	instSvc    *InstanceService
	bpSvc      *BlueprintService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	_, client := testutil.NewTestRedis(t)
	logger := testutil.NewTestLogger()
	m := metrics.New(prometheus.NewRegistry())

	f := &fixture{
		db:         db,
		blueprints: repository.NewBlueprintRepository(db),
		instances:  repository.NewRangeInstanceRepository(db),
		ranges:     repository.NewRangeRepository(db),
		dispatcher: &fakeDispatcher{},
		locker:     lock.New(client, time.Minute, logger),
	}
	txm := repository.NewTxManager(db)
	materializer := NewMaterializer(f.ranges, m, logger)

	f.instSvc = NewInstanceService(txm, f.blueprints, f.instances, f.ranges, materializer, f.dispatcher, f.locker, m, logger)
	f.bpSvc = NewBlueprintService(txm, f.blueprints, f.ranges, f.instSvc, logger)
	return f
}

var testImageID = uuid.MustParse("6f1c2d7e-4b0a-4c51-9d7e-2b8f3a1c9e10")

// labConfig 三个网络、每个网络一台虚拟机
func labConfig(prefix string) domain.BlueprintConfig {
	return domain.BlueprintConfig{
		Networks: []domain.NetworkConfig{
			{Name: "dmz", Subnet: prefix + ".1.0/24", Gateway: prefix + ".1.1"},
			{Name: "corp", Subnet: prefix + ".2.0/24", Gateway: prefix + ".2.1"},
			{Name: "ot", Subnet: prefix + ".3.0/24", Gateway: prefix + ".3.1", IsIsolated: true},
		},
		VMs: []domain.VMConfig{
			{Hostname: "web", IPAddress: prefix + ".1.10", NetworkName: "dmz", BaseImageID: testImageID.String(), CPU: 2},
			{Hostname: "dc", IPAddress: prefix + ".2.10", NetworkName: "corp", GoldenImageID: testImageID.String()},
			{Hostname: "plc", IPAddress: prefix + ".3.10", NetworkName: "ot", SnapshotID: testImageID.String()},
		},
		Router: &domain.RouterConfig{Enabled: true, DHCPEnabled: true},
		MSEL:   &domain.MSELConfig{Content: "# Day 1\n- phishing email"},
	}
}

func (f *fixture) importBlueprint(t *testing.T, prefix string) *domain.Blueprint {
	t.Helper()
	bp, err := f.bpSvc.Import(context.Background(), &BlueprintPackage{
		Name:             "lab-" + prefix,
		BaseSubnetPrefix: prefix,
		Config:           labConfig(prefix),
	}, nil)
	require.NoError(t, err)
	return bp
}

var errQueueDown = errors.New("queue down")
