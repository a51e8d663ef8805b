package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyroid/backend/internal/addressing"
	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlueprintService 蓝图服务
type BlueprintService struct {
	txm        repository.TxManager
	blueprints repository.BlueprintRepository
	ranges     repository.RangeRepository
	instances  *InstanceService
	logger     *zap.Logger
}

// NewBlueprintService 创建蓝图服务
func NewBlueprintService(
	txm repository.TxManager,
	blueprints repository.BlueprintRepository,
	ranges repository.RangeRepository,
	instances *InstanceService,
	logger *zap.Logger,
) *BlueprintService {
	return &BlueprintService{
		txm:        txm,
		blueprints: blueprints,
		ranges:     ranges,
		instances:  instances,
		logger:     logger,
	}
}

// CreateFromRangeRequest 以现有靶场创建蓝图
type CreateFromRangeRequest struct {
	RangeID     uuid.UUID  `json:"range_id" binding:"required"`
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	OwnerID     *uuid.UUID `json:"-"`
}

// CreateFromRange 从靶场提取配置创建蓝图
//
// 源靶场本身占用基准地址空间，因此新蓝图从偏移量1开始分配。
func (s *BlueprintService) CreateFromRange(ctx context.Context, req CreateFromRangeRequest) (*domain.Blueprint, error) {
	rng, err := s.ranges.FindWithResources(ctx, req.RangeID)
	if err != nil {
		return nil, notFound(err, ErrRangeNotFound)
	}

	cfg := ExtractConfig(rng)

	var prefix *string
	if len(rng.Networks) > 0 {
		if p := addressing.ExtractPrefix(rng.Networks[0].Subnet); p != "" {
			prefix = &p
		}
	}

	next := 1
	bp := &domain.Blueprint{
		Name:             req.Name,
		Description:      req.Description,
		Version:          1,
		Config:           cfg,
		BaseSubnetPrefix: prefix,
		NextOffset:       &next,
		OwnerID:          req.OwnerID,
	}
	if err := s.create(ctx, bp); err != nil {
		return nil, err
	}

	s.logger.Info("Blueprint created from range",
		zap.String("blueprint_id", bp.ID.String()),
		zap.String("range_id", rng.ID.String()),
		zap.String("base_prefix", bp.Prefix()),
	)
	return bp, nil
}

// Import 导入蓝图包，新蓝图从偏移量0开始分配
func (s *BlueprintService) Import(ctx context.Context, pkg *BlueprintPackage, ownerID *uuid.UUID) (*domain.Blueprint, error) {
	bp, err := pkg.Blueprint()
	if err != nil {
		return nil, err
	}
	bp.OwnerID = ownerID

	if err := s.create(ctx, bp); err != nil {
		return nil, err
	}

	s.logger.Info("Blueprint imported",
		zap.String("blueprint_id", bp.ID.String()),
		zap.String("name", bp.Name),
		zap.String("base_prefix", bp.Prefix()),
	)
	return bp, nil
}

// create 在一个事务内写入蓝图和它的第一个版本快照
func (s *BlueprintService) create(ctx context.Context, bp *domain.Blueprint) error {
	checksum, err := bp.Config.Checksum()
	if err != nil {
		return err
	}
	bp.Checksum = checksum
	if bp.Version == 0 {
		bp.Version = 1
	}

	return s.txm.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.blueprints.Create(ctx, bp); err != nil {
			return fmt.Errorf("failed to create blueprint: %w", err)
		}
		return s.blueprints.CreateVersion(ctx, &domain.BlueprintVersion{
			BlueprintID: bp.ID,
			Version:     bp.Version,
			Config:      bp.Config,
			Checksum:    checksum,
		})
	})
}

// UpdateConfig 编辑蓝图配置，内容变化时版本号加一并保存快照
//
// 返回的bool表示版本是否前进。
func (s *BlueprintService) UpdateConfig(ctx context.Context, id uuid.UUID, cfg domain.BlueprintConfig) (*domain.Blueprint, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}

	var (
		bp      *domain.Blueprint
		changed bool
	)
	err := s.txm.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		bp, err = s.blueprints.FindByID(ctx, id)
		if err != nil {
			return notFound(err, ErrBlueprintNotFound)
		}
		changed, err = s.applyConfig(ctx, bp, cfg)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.logger.Info("Blueprint config updated",
			zap.String("blueprint_id", bp.ID.String()),
			zap.Int("version", bp.Version),
		)
	}
	return bp, changed, nil
}

// applyConfig 写入新配置，必须在事务内调用
func (s *BlueprintService) applyConfig(ctx context.Context, bp *domain.Blueprint, cfg domain.BlueprintConfig) (bool, error) {
	checksum, err := cfg.Checksum()
	if err != nil {
		return false, err
	}
	if checksum == bp.Checksum {
		return false, nil
	}

	bp.Version++
	bp.Config = cfg
	bp.Checksum = checksum

	if err := s.blueprints.Update(ctx, bp); err != nil {
		return false, fmt.Errorf("failed to update blueprint: %w", err)
	}
	if err := s.blueprints.CreateVersion(ctx, &domain.BlueprintVersion{
		BlueprintID: bp.ID,
		Version:     bp.Version,
		Config:      cfg,
		Checksum:    checksum,
	}); err != nil {
		return false, fmt.Errorf("failed to save blueprint version: %w", err)
	}
	return true, nil
}

// Get 获取蓝图
func (s *BlueprintService) Get(ctx context.Context, id uuid.UUID) (*domain.Blueprint, error) {
	bp, err := s.blueprints.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrBlueprintNotFound)
	}
	return bp, nil
}

// List 列出用户可见的蓝图
func (s *BlueprintService) List(ctx context.Context, ownerID *uuid.UUID) ([]domain.Blueprint, error) {
	return s.blueprints.List(ctx, ownerID)
}

// ListVersions 列出蓝图的版本历史
func (s *BlueprintService) ListVersions(ctx context.Context, id uuid.UUID) ([]domain.BlueprintVersion, error) {
	if _, err := s.blueprints.FindByID(ctx, id); err != nil {
		return nil, notFound(err, ErrBlueprintNotFound)
	}
	return s.blueprints.ListVersions(ctx, id)
}

// Delete 删除蓝图，先逐个删除其实例
func (s *BlueprintService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.blueprints.FindByID(ctx, id); err != nil {
		return notFound(err, ErrBlueprintNotFound)
	}

	insts, err := s.instances.ListByBlueprint(ctx, id)
	if err != nil {
		return err
	}
	for _, inst := range insts {
		if err := s.instances.Delete(ctx, inst.ID); err != nil && !errors.Is(err, ErrInstanceNotFound) {
			return fmt.Errorf("failed to delete instance %s: %w", inst.ID, err)
		}
	}

	if err := s.blueprints.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete blueprint: %w", err)
	}

	s.logger.Info("Blueprint deleted",
		zap.String("blueprint_id", id.String()),
		zap.Int("instances", len(insts)),
	)
	return nil
}
