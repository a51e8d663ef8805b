package repository

import (
	"context"

	"github.com/cyroid/backend/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RangeInstanceRepository 蓝图实例仓储接口
type RangeInstanceRepository interface {
	Create(ctx context.Context, inst *domain.RangeInstance) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.RangeInstance, error)
	FindByBlueprint(ctx context.Context, blueprintID uuid.UUID) ([]domain.RangeInstance, error)
	// UpdateVersion 只更新实例记录的蓝图版本，subnet_offset 永不更新
	UpdateVersion(ctx context.Context, id uuid.UUID, version int) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByBlueprint(ctx context.Context, blueprintID uuid.UUID) (int, error)
}

type rangeInstanceRepository struct {
	db *gorm.DB
}

// NewRangeInstanceRepository 创建实例仓储
func NewRangeInstanceRepository(db *gorm.DB) RangeInstanceRepository {
	return &rangeInstanceRepository{db: db}
}

func (r *rangeInstanceRepository) Create(ctx context.Context, inst *domain.RangeInstance) error {
	return conn(ctx, r.db).Omit("Blueprint", "Range").Create(inst).Error
}

func (r *rangeInstanceRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.RangeInstance, error) {
	var inst domain.RangeInstance
	err := conn(ctx, r.db).
		Preload("Range").
		First(&inst, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *rangeInstanceRepository) FindByBlueprint(ctx context.Context, blueprintID uuid.UUID) ([]domain.RangeInstance, error) {
	var insts []domain.RangeInstance
	err := conn(ctx, r.db).
		Preload("Range").
		Where("blueprint_id = ?", blueprintID).
		Order("subnet_offset ASC").
		Find(&insts).Error
	return insts, err
}

func (r *rangeInstanceRepository) UpdateVersion(ctx context.Context, id uuid.UUID, version int) error {
	res := conn(ctx, r.db).
		Model(&domain.RangeInstance{}).
		Where("id = ?", id).
		Update("blueprint_version", version)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *rangeInstanceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return conn(ctx, r.db).Delete(&domain.RangeInstance{}, "id = ?", id).Error
}

func (r *rangeInstanceRepository) CountByBlueprint(ctx context.Context, blueprintID uuid.UUID) (int, error) {
	var count int64
	err := conn(ctx, r.db).
		Model(&domain.RangeInstance{}).
		Where("blueprint_id = ?", blueprintID).
		Count(&count).Error
	return int(count), err
}
