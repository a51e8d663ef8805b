package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RangeInstance 蓝图的一次实例化
//
// SubnetOffset 在创建时分配一次，之后不再改变；同一蓝图下各实例互不相同。
// BlueprintVersion 在 redeploy 时更新，reset 时保持不变。
type RangeInstance struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name             string     `gorm:"type:varchar(255);not null" json:"name"`
	Description      string     `gorm:"type:text" json:"description"`
	BlueprintID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_instance_blueprint_offset" json:"blueprint_id"`
	BlueprintVersion int        `gorm:"not null" json:"blueprint_version"`
	SubnetOffset     int        `gorm:"not null;uniqueIndex:idx_instance_blueprint_offset" json:"subnet_offset"`
	RangeID          uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"range_id"`
	InstructorID     *uuid.UUID `gorm:"type:uuid;index" json:"instructor_id,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`

	// 关联
	Blueprint *Blueprint `gorm:"foreignKey:BlueprintID" json:"-"`
	Range     *Range     `gorm:"foreignKey:RangeID" json:"range,omitempty"`
}

// TableName 指定表名
func (RangeInstance) TableName() string {
	return "range_instances"
}

// BeforeCreate 生成主键
func (i *RangeInstance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
