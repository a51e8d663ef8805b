package repository

import (
	"context"
	"time"

	"github.com/cyroid/backend/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLogRepository 审计日志仓储接口（不可变，只追加）
type AuditLogRepository interface {
	// Create 创建新审计日志（唯一的写操作）
	Create(ctx context.Context, log *domain.AuditLog) error

	// FindByFilters 根据过滤条件查找审计日志
	FindByFilters(ctx context.Context, filters *AuditLogFilters) ([]*domain.AuditLog, int64, error)
}

// AuditLogFilters 审计日志查询过滤条件
type AuditLogFilters struct {
	ActorID      *uuid.UUID
	Action       *string
	ResourceType *domain.ResourceType
	ResourceID   *uuid.UUID
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// auditLogRepository AuditLog仓储的GORM实现
type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建AuditLog仓储实例
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

func (r *auditLogRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	return conn(ctx, r.db).Create(log).Error
}

func (r *auditLogRepository) FindByFilters(ctx context.Context, filters *AuditLogFilters) ([]*domain.AuditLog, int64, error) {
	var logs []*domain.AuditLog
	var total int64

	query := conn(ctx, r.db).Model(&domain.AuditLog{})

	if filters.ActorID != nil {
		query = query.Where("actor_id = ?", *filters.ActorID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.ResourceType != nil {
		query = query.Where("resource_type = ?", *filters.ResourceType)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.StartTime != nil {
		query = query.Where("created_at >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("created_at <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	err := query.Order("created_at DESC").Find(&logs).Error
	return logs, total, err
}
