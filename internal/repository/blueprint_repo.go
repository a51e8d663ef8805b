package repository

import (
	"context"
	"fmt"

	"github.com/cyroid/backend/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BlueprintRepository 蓝图仓储接口
type BlueprintRepository interface {
	// Create 创建蓝图
	Create(ctx context.Context, bp *domain.Blueprint) error

	// FindByID 根据ID查找蓝图
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Blueprint, error)

	// FindBySeedID 根据内置蓝图标识查找
	FindBySeedID(ctx context.Context, seedID string) (*domain.Blueprint, error)

	// List 列出用户可见的蓝图（自己的 + 内置的），ownerID为nil时列出全部
	List(ctx context.Context, ownerID *uuid.UUID) ([]domain.Blueprint, error)

	// Update 更新蓝图（不写 next_offset，该字段只由 AllocateOffset 修改）
	Update(ctx context.Context, bp *domain.Blueprint) error

	// Delete 删除蓝图及其版本历史
	Delete(ctx context.Context, id uuid.UUID) error

	// AllocateOffset 原子地取出并递增 next_offset，返回本次分配的偏移量
	AllocateOffset(ctx context.Context, id uuid.UUID) (int, error)

	// CreateVersion 保存配置快照
	CreateVersion(ctx context.Context, v *domain.BlueprintVersion) error

	// FindVersion 查找指定版本的配置快照
	FindVersion(ctx context.Context, blueprintID uuid.UUID, version int) (*domain.BlueprintVersion, error)

	// ListVersions 列出蓝图全部版本（新版本在前）
	ListVersions(ctx context.Context, blueprintID uuid.UUID) ([]domain.BlueprintVersion, error)
}

type blueprintRepository struct {
	db *gorm.DB
}

// NewBlueprintRepository 创建蓝图仓储实例
func NewBlueprintRepository(db *gorm.DB) BlueprintRepository {
	return &blueprintRepository{db: db}
}

func (r *blueprintRepository) Create(ctx context.Context, bp *domain.Blueprint) error {
	return conn(ctx, r.db).Create(bp).Error
}

func (r *blueprintRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Blueprint, error) {
	var bp domain.Blueprint
	if err := conn(ctx, r.db).First(&bp, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &bp, nil
}

func (r *blueprintRepository) FindBySeedID(ctx context.Context, seedID string) (*domain.Blueprint, error) {
	var bp domain.Blueprint
	if err := conn(ctx, r.db).Where("seed_id = ?", seedID).First(&bp).Error; err != nil {
		return nil, err
	}
	return &bp, nil
}

func (r *blueprintRepository) List(ctx context.Context, ownerID *uuid.UUID) ([]domain.Blueprint, error) {
	var bps []domain.Blueprint
	query := conn(ctx, r.db)

	if ownerID != nil {
		query = query.Where("owner_id = ? OR owner_id IS NULL", *ownerID)
	}

	err := query.Order("name ASC").Find(&bps).Error
	return bps, err
}

func (r *blueprintRepository) Update(ctx context.Context, bp *domain.Blueprint) error {
	return conn(ctx, r.db).Omit("NextOffset", "Instances").Save(bp).Error
}

func (r *blueprintRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := conn(ctx, r.db)
	if err := db.Where("blueprint_id = ?", id).Delete(&domain.BlueprintVersion{}).Error; err != nil {
		return fmt.Errorf("failed to delete blueprint versions: %w", err)
	}
	return db.Delete(&domain.Blueprint{}, "id = ?", id).Error
}

// AllocateOffset 先 UPDATE 再读取：UPDATE 持有行锁直到事务提交，
// 并发的分配请求在此串行化，不会拿到相同的偏移量。
// 事务只覆盖读取和递增两步，不包含后续的实例化。
func (r *blueprintRepository) AllocateOffset(ctx context.Context, id uuid.UUID) (int, error) {
	var offset int

	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Blueprint{}).
			Where("id = ?", id).
			UpdateColumn("next_offset", gorm.Expr("COALESCE(next_offset, 0) + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var next int
		if err := tx.Model(&domain.Blueprint{}).
			Where("id = ?", id).
			Select("next_offset").
			Row().
			Scan(&next); err != nil {
			return err
		}

		offset = next - 1
		return nil
	})
	if err != nil {
		return 0, err
	}

	return offset, nil
}

func (r *blueprintRepository) CreateVersion(ctx context.Context, v *domain.BlueprintVersion) error {
	return conn(ctx, r.db).Create(v).Error
}

func (r *blueprintRepository) FindVersion(ctx context.Context, blueprintID uuid.UUID, version int) (*domain.BlueprintVersion, error) {
	var v domain.BlueprintVersion
	err := conn(ctx, r.db).
		Where("blueprint_id = ? AND version = ?", blueprintID, version).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *blueprintRepository) ListVersions(ctx context.Context, blueprintID uuid.UUID) ([]domain.BlueprintVersion, error) {
	var versions []domain.BlueprintVersion
	err := conn(ctx, r.db).
		Where("blueprint_id = ?", blueprintID).
		Order("version DESC").
		Find(&versions).Error
	return versions, err
}
