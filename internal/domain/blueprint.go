package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Blueprint 靶场蓝图：可复用、带版本的模板
//
// NextOffset 只增不减，已发出的偏移量即使实例被删除也不会复用。
type Blueprint struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SeedID           *string         `gorm:"type:varchar(255);uniqueIndex" json:"seed_id,omitempty"`
	Name             string          `gorm:"type:varchar(255);not null" json:"name"`
	Description      string          `gorm:"type:text" json:"description"`
	Version          int             `gorm:"not null;default:1" json:"version"`
	Config           BlueprintConfig `gorm:"type:jsonb;not null" json:"config"`
	Checksum         string          `gorm:"type:varchar(64)" json:"-"`
	BaseSubnetPrefix *string         `gorm:"type:varchar(15)" json:"base_subnet_prefix,omitempty"`
	NextOffset       *int            `gorm:"default:0" json:"next_offset,omitempty"`
	OwnerID          *uuid.UUID      `gorm:"type:uuid;index" json:"owner_id,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`

	// 关联
	Instances []RangeInstance `gorm:"foreignKey:BlueprintID;constraint:OnDelete:CASCADE" json:"instances,omitempty"`
}

// TableName 指定表名
func (Blueprint) TableName() string {
	return "blueprints"
}

// BeforeCreate 生成主键
func (b *Blueprint) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Prefix 基准前缀，旧数据可能为空
func (b *Blueprint) Prefix() string {
	if b.BaseSubnetPrefix == nil {
		return ""
	}
	return *b.BaseSubnetPrefix
}

// IsSeed 是否为内置蓝图
func (b *Blueprint) IsSeed() bool {
	return b.SeedID != nil
}

// BlueprintVersion 蓝图配置历史快照，重置实例时按版本取回配置
type BlueprintVersion struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BlueprintID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_blueprint_version" json:"blueprint_id"`
	Version     int             `gorm:"not null;uniqueIndex:idx_blueprint_version" json:"version"`
	Config      BlueprintConfig `gorm:"type:jsonb;not null" json:"config"`
	Checksum    string          `gorm:"type:varchar(64);not null" json:"checksum"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (BlueprintVersion) TableName() string {
	return "blueprint_versions"
}

// BeforeCreate 生成主键
func (v *BlueprintVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
