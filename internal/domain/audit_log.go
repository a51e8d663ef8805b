package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResourceType 资源类型枚举
type ResourceType string

const (
	ResourceTypeBlueprint ResourceType = "blueprint"
	ResourceTypeInstance  ResourceType = "instance"
	ResourceTypeRange     ResourceType = "range"
)

// AuditLog 审计日志实体（不可变）
type AuditLog struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID      *uuid.UUID   `gorm:"type:uuid;index" json:"actor_id,omitempty"`
	Action       string       `gorm:"type:varchar(100);not null;index" json:"action"`
	ResourceType ResourceType `gorm:"type:varchar(32);not null;index" json:"resource_type"`
	ResourceID   *uuid.UUID   `gorm:"type:uuid;index" json:"resource_id,omitempty"`
	StatusCode   int          `gorm:"not null" json:"status_code"`
	IPAddress    *string      `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent    *string      `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt    time.Time    `gorm:"not null;index" json:"created_at"`
}

// TableName 指定表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate 生成主键
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
