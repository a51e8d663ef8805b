package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DryRun 只记录日志的运行时，开发环境和测试使用
type DryRun struct {
	mu     sync.Mutex
	ranges map[uuid.UUID]*RangeSpec
	logger *zap.Logger
}

// NewDryRun 创建dry-run运行时
func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{
		ranges: make(map[uuid.UUID]*RangeSpec),
		logger: logger,
	}
}

func (d *DryRun) Provision(ctx context.Context, spec *RangeSpec) error {
	d.mu.Lock()
	d.ranges[spec.RangeID] = spec
	d.mu.Unlock()

	d.logger.Info("Dry-run provision",
		zap.String("range_id", spec.RangeID.String()),
		zap.Int("networks", len(spec.Networks)),
		zap.Int("vms", len(spec.VMs)),
	)
	return nil
}

func (d *DryRun) Destroy(ctx context.Context, rangeID uuid.UUID) error {
	d.mu.Lock()
	delete(d.ranges, rangeID)
	d.mu.Unlock()

	d.logger.Info("Dry-run destroy", zap.String("range_id", rangeID.String()))
	return nil
}

func (d *DryRun) ListRangeIDs(ctx context.Context) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(d.ranges))
	for id := range d.ranges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

// Spec 返回已下发的规格
func (d *DryRun) Spec(rangeID uuid.UUID) (*RangeSpec, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	spec, ok := d.ranges[rangeID]
	return spec, ok
}
