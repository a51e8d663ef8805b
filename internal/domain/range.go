package domain

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// RangeStatus 靶场状态
type RangeStatus string

const (
	RangeStatusDraft     RangeStatus = "draft"
	RangeStatusDeploying RangeStatus = "deploying"
	RangeStatusRunning   RangeStatus = "running"
	RangeStatusStopping  RangeStatus = "stopping"
	RangeStatusStopped   RangeStatus = "stopped"
	RangeStatusError     RangeStatus = "error"
)

// Range 靶场：一组网络和虚拟机
type Range struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string         `gorm:"type:varchar(255);not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description"`
	Status            RangeStatus    `gorm:"type:varchar(32);not null;default:'draft';index" json:"status"`
	StatusMessage     string         `gorm:"type:text" json:"status_message,omitempty"`
	RouterEnabled     bool           `gorm:"not null;default:false" json:"router_enabled"`
	RouterDHCPEnabled bool           `gorm:"not null;default:false" json:"router_dhcp_enabled"`
	ContentIDs        pq.StringArray `gorm:"type:text[]" json:"content_ids,omitempty"`
	OwnerID           *uuid.UUID     `gorm:"type:uuid;index" json:"owner_id,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`

	// 关联
	Networks []Network `gorm:"foreignKey:RangeID;constraint:OnDelete:CASCADE" json:"networks,omitempty"`
	VMs      []VM      `gorm:"foreignKey:RangeID;constraint:OnDelete:CASCADE" json:"vms,omitempty"`
	MSEL     *MSEL     `gorm:"foreignKey:RangeID;constraint:OnDelete:CASCADE" json:"msel,omitempty"`
}

// TableName 指定表名
func (Range) TableName() string {
	return "ranges"
}

// BeforeCreate 生成主键
func (r *Range) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Network 靶场网络
type Network struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RangeID         uuid.UUID `gorm:"type:uuid;not null;index" json:"range_id"`
	Name            string    `gorm:"type:varchar(255);not null" json:"name"`
	Subnet          string    `gorm:"type:cidr;not null" json:"subnet"`
	Gateway         string    `gorm:"type:inet" json:"gateway"`
	IsIsolated      bool      `gorm:"not null;default:false" json:"is_isolated"`
	InternetEnabled bool      `gorm:"not null;default:false" json:"internet_enabled"`
	DHCPEnabled     bool      `gorm:"not null;default:false" json:"dhcp_enabled"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (Network) TableName() string {
	return "networks"
}

// BeforeCreate 生成主键
func (n *Network) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// CIDRIP 辅助方法：解析 CIDR
func (n *Network) CIDRIP() (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(n.Subnet)
	return ipnet, err
}

// VMStatus 虚拟机状态
type VMStatus string

const (
	VMStatusPending VMStatus = "pending"
	VMStatusRunning VMStatus = "running"
	VMStatusStopped VMStatus = "stopped"
	VMStatusError   VMStatus = "error"
)

// VM 靶场虚拟机/容器
//
// BaseImageID、GoldenImageID、SnapshotID 恰有一个非空。
type VM struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RangeID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"range_id"`
	NetworkID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"network_id"`
	Hostname       string     `gorm:"type:varchar(255);not null" json:"hostname"`
	IPAddress      string     `gorm:"type:inet" json:"ip_address"`
	CPU            int        `gorm:"not null;default:1" json:"cpu"`
	RAMMB          int        `gorm:"not null;default:1024" json:"ram_mb"`
	DiskGB         int        `gorm:"not null;default:20" json:"disk_gb"`
	PositionX      int        `gorm:"not null;default:0" json:"position_x"`
	PositionY      int        `gorm:"not null;default:0" json:"position_y"`
	BaseImageID    *uuid.UUID `gorm:"type:uuid" json:"base_image_id,omitempty"`
	GoldenImageID  *uuid.UUID `gorm:"type:uuid" json:"golden_image_id,omitempty"`
	SnapshotID     *uuid.UUID `gorm:"type:uuid" json:"snapshot_id,omitempty"`
	WindowsVersion *string    `gorm:"type:varchar(64)" json:"windows_version,omitempty"`
	Environment    StringMap  `gorm:"type:jsonb" json:"environment,omitempty"`
	Status         VMStatus   `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`

	// 关联
	Network *Network `gorm:"foreignKey:NetworkID" json:"-"`
}

// TableName 指定表名
func (VM) TableName() string {
	return "vms"
}

// BeforeCreate 生成主键
func (v *VM) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// SetImageSource 写入唯一的镜像来源
func (v *VM) SetImageSource(src ImageSource) {
	id := src.ID
	v.BaseImageID, v.GoldenImageID, v.SnapshotID = nil, nil, nil
	switch src.Kind {
	case ImageSourceBase:
		v.BaseImageID = &id
	case ImageSourceGolden:
		v.GoldenImageID = &id
	case ImageSourceSnapshot:
		v.SnapshotID = &id
	}
}

// ImageSource 返回虚拟机的镜像来源
func (v *VM) ImageSource() (ImageSource, bool) {
	switch {
	case v.BaseImageID != nil:
		return ImageSource{Kind: ImageSourceBase, ID: *v.BaseImageID}, true
	case v.GoldenImageID != nil:
		return ImageSource{Kind: ImageSourceGolden, ID: *v.GoldenImageID}, true
	case v.SnapshotID != nil:
		return ImageSource{Kind: ImageSourceSnapshot, ID: *v.SnapshotID}, true
	}
	return ImageSource{}, false
}

// MSEL 靶场绑定的主场景事件列表
type MSEL struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RangeID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"range_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Format      string    `gorm:"type:varchar(32);not null;default:'markdown'" json:"format"`
	Walkthrough JSONB     `gorm:"type:jsonb" json:"walkthrough,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (MSEL) TableName() string {
	return "msels"
}

// BeforeCreate 生成主键
func (m *MSEL) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
