package repository

import (
	"context"
	"fmt"

	"github.com/cyroid/backend/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RangeRepository 靶场仓储接口
type RangeRepository interface {
	Create(ctx context.Context, rng *domain.Range) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Range, error)
	// FindWithResources 加载靶场及其网络、虚拟机、MSEL
	FindWithResources(ctx context.Context, id uuid.UUID) (*domain.Range, error)
	Update(ctx context.Context, rng *domain.Range) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RangeStatus, message string) error
	CreateNetworks(ctx context.Context, networks []domain.Network) error
	CreateVMs(ctx context.Context, vms []domain.VM) error
	CreateMSEL(ctx context.Context, msel *domain.MSEL) error
	// DeleteResources 删除靶场下的虚拟机、网络和MSEL，保留靶场本身
	DeleteResources(ctx context.Context, rangeID uuid.UUID) error
	// Delete 删除靶场及其全部资源
	Delete(ctx context.Context, id uuid.UUID) error
	// ExistingIDs 返回 ids 中仍存在于数据库的靶场
	ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]struct{}, error)
}

type rangeRepository struct {
	db *gorm.DB
}

// NewRangeRepository 创建靶场仓储实例
func NewRangeRepository(db *gorm.DB) RangeRepository {
	return &rangeRepository{db: db}
}

func (r *rangeRepository) Create(ctx context.Context, rng *domain.Range) error {
	return conn(ctx, r.db).Omit("Networks", "VMs", "MSEL").Create(rng).Error
}

func (r *rangeRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Range, error) {
	var rng domain.Range
	if err := conn(ctx, r.db).First(&rng, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rng, nil
}

func (r *rangeRepository) FindWithResources(ctx context.Context, id uuid.UUID) (*domain.Range, error) {
	var rng domain.Range
	err := conn(ctx, r.db).
		Preload("Networks", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("VMs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("MSEL").
		First(&rng, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rng, nil
}

func (r *rangeRepository) Update(ctx context.Context, rng *domain.Range) error {
	return conn(ctx, r.db).Omit("Networks", "VMs", "MSEL").Save(rng).Error
}

func (r *rangeRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RangeStatus, message string) error {
	res := conn(ctx, r.db).
		Model(&domain.Range{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         status,
			"status_message": message,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *rangeRepository) CreateNetworks(ctx context.Context, networks []domain.Network) error {
	if len(networks) == 0 {
		return nil
	}
	return conn(ctx, r.db).Create(&networks).Error
}

func (r *rangeRepository) CreateVMs(ctx context.Context, vms []domain.VM) error {
	if len(vms) == 0 {
		return nil
	}
	return conn(ctx, r.db).Omit("Network").Create(&vms).Error
}

func (r *rangeRepository) CreateMSEL(ctx context.Context, msel *domain.MSEL) error {
	return conn(ctx, r.db).Create(msel).Error
}

func (r *rangeRepository) DeleteResources(ctx context.Context, rangeID uuid.UUID) error {
	db := conn(ctx, r.db)

	// 虚拟机引用网络，需先删除
	if err := db.Where("range_id = ?", rangeID).Delete(&domain.VM{}).Error; err != nil {
		return fmt.Errorf("failed to delete vms: %w", err)
	}
	if err := db.Where("range_id = ?", rangeID).Delete(&domain.Network{}).Error; err != nil {
		return fmt.Errorf("failed to delete networks: %w", err)
	}
	if err := db.Where("range_id = ?", rangeID).Delete(&domain.MSEL{}).Error; err != nil {
		return fmt.Errorf("failed to delete msel: %w", err)
	}
	return nil
}

func (r *rangeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.DeleteResources(ctx, id); err != nil {
		return err
	}
	return conn(ctx, r.db).Delete(&domain.Range{}, "id = ?", id).Error
}

func (r *rangeRepository) ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	existing := make(map[uuid.UUID]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	var found []uuid.UUID
	if err := conn(ctx, r.db).
		Model(&domain.Range{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}
