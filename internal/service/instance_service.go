package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyroid/backend/internal/addressing"
	"github.com/cyroid/backend/internal/cache"
	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 实例操作名称，用于指标和日志
const (
	OpDeploy   = "deploy"
	OpClone    = "clone"
	OpReset    = "reset"
	OpRedeploy = "redeploy"
	OpDelete   = "delete"
)

// InstanceService 蓝图实例生命周期服务
type InstanceService struct {
	txm          repository.TxManager
	blueprints   repository.BlueprintRepository
	instances    repository.RangeInstanceRepository
	ranges       repository.RangeRepository
	materializer *Materializer
	dispatcher   provisioning.Dispatcher
	locker       lock.Locker
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewInstanceService 创建实例服务
func NewInstanceService(
	txm repository.TxManager,
	blueprints repository.BlueprintRepository,
	instances repository.RangeInstanceRepository,
	ranges repository.RangeRepository,
	materializer *Materializer,
	dispatcher provisioning.Dispatcher,
	locker lock.Locker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *InstanceService {
	return &InstanceService{
		txm:          txm,
		blueprints:   blueprints,
		instances:    instances,
		ranges:       ranges,
		materializer: materializer,
		dispatcher:   dispatcher,
		locker:       locker,
		metrics:      m,
		logger:       logger,
	}
}

// DeployRequest 部署/克隆请求
type DeployRequest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	InstructorID *uuid.UUID `json:"-"`
}

// InstanceResult 实例操作结果
type InstanceResult struct {
	Instance *domain.RangeInstance `json:"instance"`
	Warnings []Warning             `json:"warnings"`
}

// Deploy 以蓝图当前版本创建新实例
func (s *InstanceService) Deploy(ctx context.Context, blueprintID uuid.UUID, req DeployRequest) (res *InstanceResult, err error) {
	defer func() { s.metrics.RecordInstanceOperation(OpDeploy, err) }()

	bp, err := s.blueprints.FindByID(ctx, blueprintID)
	if err != nil {
		return nil, notFound(err, ErrBlueprintNotFound)
	}

	return s.create(ctx, bp, bp.Version, bp.Config, req)
}

// Clone 以源实例固定的版本创建新实例，新实例分配新的偏移量
func (s *InstanceService) Clone(ctx context.Context, instanceID uuid.UUID, req DeployRequest) (res *InstanceResult, err error) {
	defer func() { s.metrics.RecordInstanceOperation(OpClone, err) }()

	src, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, notFound(err, ErrInstanceNotFound)
	}

	bp, err := s.blueprints.FindByID(ctx, src.BlueprintID)
	if err != nil {
		return nil, notFound(err, ErrBlueprintNotFound)
	}

	if req.Name == "" {
		req.Name = src.Name + " (clone)"
	}
	if req.Description == "" {
		req.Description = src.Description
	}

	return s.create(ctx, bp, src.BlueprintVersion, s.pinnedConfig(ctx, bp, src.BlueprintVersion), req)
}

// create 分配偏移量并在一个事务内创建靶场、资源和实例记录
//
// 偏移量在事务之外分配，事务失败时该偏移量不会被回收。
func (s *InstanceService) create(ctx context.Context, bp *domain.Blueprint, version int, cfg domain.BlueprintConfig, req DeployRequest) (*InstanceResult, error) {
	// 已耗尽的蓝图不再推进 next_offset
	if err := s.checkAddressSpace(bp, nextOffset(bp)); err != nil {
		return nil, err
	}

	offset, err := s.blueprints.AllocateOffset(ctx, bp.ID)
	if err != nil {
		return nil, notFound(err, ErrBlueprintNotFound)
	}
	s.metrics.OffsetsAllocated.Inc()

	if err := s.checkAddressSpace(bp, offset); err != nil {
		return nil, err
	}

	if req.Name == "" {
		req.Name = fmt.Sprintf("%s #%d", bp.Name, offset)
	}

	rng := &domain.Range{
		Name:        req.Name,
		Description: req.Description,
		Status:      domain.RangeStatusDraft,
		OwnerID:     req.InstructorID,
	}
	inst := &domain.RangeInstance{
		Name:             req.Name,
		Description:      req.Description,
		BlueprintID:      bp.ID,
		BlueprintVersion: version,
		SubnetOffset:     offset,
		InstructorID:     req.InstructorID,
	}

	var result *Result
	err = s.txm.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.ranges.Create(ctx, rng); err != nil {
			return fmt.Errorf("failed to create range: %w", err)
		}

		var err error
		result, err = s.materializer.Materialize(ctx, rng, cfg, bp.Prefix(), offset)
		if err != nil {
			return err
		}

		inst.RangeID = rng.ID
		if err := s.instances.Create(ctx, inst); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Instance created",
		zap.String("instance_id", inst.ID.String()),
		zap.String("blueprint_id", bp.ID.String()),
		zap.Int("blueprint_version", version),
		zap.Int("offset", offset),
	)

	rng.Status, rng.StatusMessage = s.requestDeploy(ctx, rng.ID)
	attachResources(rng, result)

	inst.Range = rng
	return &InstanceResult{Instance: inst, Warnings: result.Warnings}, nil
}

// Reset 按实例固定的版本重建资源，版本和偏移量都不变
func (s *InstanceService) Reset(ctx context.Context, instanceID uuid.UUID) (res *InstanceResult, err error) {
	defer func() { s.metrics.RecordInstanceOperation(OpReset, err) }()
	return s.rebuild(ctx, instanceID, false)
}

// Redeploy 按蓝图最新版本重建资源，偏移量不变
func (s *InstanceService) Redeploy(ctx context.Context, instanceID uuid.UUID) (res *InstanceResult, err error) {
	defer func() { s.metrics.RecordInstanceOperation(OpRedeploy, err) }()
	return s.rebuild(ctx, instanceID, true)
}

func (s *InstanceService) rebuild(ctx context.Context, instanceID uuid.UUID, latest bool) (*InstanceResult, error) {
	release, err := s.locker.Acquire(ctx, cache.InstanceLockKey(instanceID.String()))
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, release, instanceID)

	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, notFound(err, ErrInstanceNotFound)
	}

	bp, err := s.blueprints.FindByID(ctx, inst.BlueprintID)
	if err != nil {
		return nil, notFound(err, ErrBlueprintNotFound)
	}

	version, cfg := bp.Version, bp.Config
	if !latest {
		version = inst.BlueprintVersion
		cfg = s.pinnedConfig(ctx, bp, version)
	}

	// 先检查地址空间，避免拆除后才发现无法重建
	if err := s.checkAddressSpace(bp, inst.SubnetOffset); err != nil {
		return nil, err
	}

	s.requestTeardown(ctx, inst.RangeID)

	var result *Result
	err = s.txm.WithinTransaction(ctx, func(ctx context.Context) error {
		rng, err := s.ranges.FindByID(ctx, inst.RangeID)
		if err != nil {
			return notFound(err, ErrRangeNotFound)
		}

		if err := s.ranges.DeleteResources(ctx, rng.ID); err != nil {
			return err
		}

		result, err = s.materializer.Materialize(ctx, rng, cfg, bp.Prefix(), inst.SubnetOffset)
		if err != nil {
			return err
		}

		if version != inst.BlueprintVersion {
			if err := s.instances.UpdateVersion(ctx, inst.ID, version); err != nil {
				return fmt.Errorf("failed to update instance version: %w", err)
			}
		}
		inst.Range = rng
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Instance rebuilt",
		zap.String("instance_id", inst.ID.String()),
		zap.Bool("latest", latest),
		zap.Int("from_version", inst.BlueprintVersion),
		zap.Int("to_version", version),
		zap.Int("offset", inst.SubnetOffset),
	)
	inst.BlueprintVersion = version

	inst.Range.Status, inst.Range.StatusMessage = s.requestDeploy(ctx, inst.RangeID)
	attachResources(inst.Range, result)

	return &InstanceResult{Instance: inst, Warnings: result.Warnings}, nil
}

// Delete 删除实例及其靶场，已分配的偏移量不回收
func (s *InstanceService) Delete(ctx context.Context, instanceID uuid.UUID) (err error) {
	defer func() { s.metrics.RecordInstanceOperation(OpDelete, err) }()

	release, err := s.locker.Acquire(ctx, cache.InstanceLockKey(instanceID.String()))
	if err != nil {
		return err
	}
	defer s.release(ctx, release, instanceID)

	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return notFound(err, ErrInstanceNotFound)
	}

	s.requestTeardown(ctx, inst.RangeID)

	// 实例引用靶场，需先删除实例
	err = s.txm.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.instances.Delete(ctx, inst.ID); err != nil {
			return fmt.Errorf("failed to delete instance: %w", err)
		}
		if err := s.ranges.Delete(ctx, inst.RangeID); err != nil {
			return fmt.Errorf("failed to delete range: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Instance deleted",
		zap.String("instance_id", inst.ID.String()),
		zap.String("blueprint_id", inst.BlueprintID.String()),
		zap.Int("offset", inst.SubnetOffset),
	)
	return nil
}

// Get 获取实例及其靶场资源
func (s *InstanceService) Get(ctx context.Context, instanceID uuid.UUID) (*domain.RangeInstance, error) {
	inst, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, notFound(err, ErrInstanceNotFound)
	}

	rng, err := s.ranges.FindWithResources(ctx, inst.RangeID)
	if err != nil {
		return nil, notFound(err, ErrRangeNotFound)
	}
	inst.Range = rng
	return inst, nil
}

// ListByBlueprint 列出蓝图的全部实例
func (s *InstanceService) ListByBlueprint(ctx context.Context, blueprintID uuid.UUID) ([]domain.RangeInstance, error) {
	if _, err := s.blueprints.FindByID(ctx, blueprintID); err != nil {
		return nil, notFound(err, ErrBlueprintNotFound)
	}
	return s.instances.FindByBlueprint(ctx, blueprintID)
}

// pinnedConfig 返回指定版本的配置快照，快照缺失时退回当前配置
func (s *InstanceService) pinnedConfig(ctx context.Context, bp *domain.Blueprint, version int) domain.BlueprintConfig {
	if version == bp.Version {
		return bp.Config
	}

	v, err := s.blueprints.FindVersion(ctx, bp.ID, version)
	if err != nil {
		s.logger.Warn("Blueprint version snapshot unavailable, using current config",
			zap.String("blueprint_id", bp.ID.String()),
			zap.Int("version", version),
			zap.Int("current_version", bp.Version),
			zap.Error(err),
		)
		return bp.Config
	}
	return v.Config
}

func (s *InstanceService) checkAddressSpace(bp *domain.Blueprint, offset int) error {
	if _, err := addressing.NewShifter(bp.Prefix(), offset); err != nil {
		if errors.Is(err, addressing.ErrAddressSpaceExhausted) {
			s.metrics.AddressSpaceExhausted.Inc()
			s.logger.Warn("Blueprint address space exhausted",
				zap.String("blueprint_id", bp.ID.String()),
				zap.String("base_prefix", bp.Prefix()),
				zap.Int("offset", offset),
			)
		}
		return err
	}
	return nil
}

// requestDeploy 请求运行时部署靶场，失败只记录日志，返回靶场的新状态
func (s *InstanceService) requestDeploy(ctx context.Context, rangeID uuid.UUID) (domain.RangeStatus, string) {
	s.setStatus(ctx, rangeID, domain.RangeStatusDeploying, "")

	if err := s.dispatcher.EnqueueDeploy(ctx, rangeID); err != nil {
		s.metrics.DispatchFailures.WithLabelValues(string(provisioning.JobDeploy)).Inc()
		s.logger.Warn("Failed to request range deployment",
			zap.String("range_id", rangeID.String()),
			zap.Error(err),
		)
		message := "deployment request failed: " + err.Error()
		s.setStatus(ctx, rangeID, domain.RangeStatusError, message)
		return domain.RangeStatusError, message
	}
	return domain.RangeStatusDeploying, ""
}

// requestTeardown 请求运行时拆除靶场，失败只记录日志
func (s *InstanceService) requestTeardown(ctx context.Context, rangeID uuid.UUID) {
	s.setStatus(ctx, rangeID, domain.RangeStatusStopping, "")

	if err := s.dispatcher.EnqueueTeardown(ctx, rangeID); err != nil {
		s.metrics.DispatchFailures.WithLabelValues(string(provisioning.JobTeardown)).Inc()
		s.logger.Warn("Failed to request range teardown",
			zap.String("range_id", rangeID.String()),
			zap.Error(err),
		)
	}
}

func (s *InstanceService) setStatus(ctx context.Context, rangeID uuid.UUID, status domain.RangeStatus, message string) {
	if err := s.ranges.UpdateStatus(ctx, rangeID, status, message); err != nil {
		s.logger.Warn("Failed to update range status",
			zap.String("range_id", rangeID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func nextOffset(bp *domain.Blueprint) int {
	if bp.NextOffset == nil {
		return 0
	}
	return *bp.NextOffset
}

func attachResources(rng *domain.Range, res *Result) {
	rng.Networks = res.Networks
	rng.VMs = res.VMs
	rng.MSEL = res.MSEL
}

func (s *InstanceService) release(ctx context.Context, release lock.ReleaseFunc, instanceID uuid.UUID) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to release instance lock",
			zap.String("instance_id", instanceID.String()),
			zap.Error(err),
		)
	}
}
