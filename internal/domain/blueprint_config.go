package domain

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalidConfig 蓝图配置校验失败
var ErrInvalidConfig = errors.New("invalid blueprint config")

// BlueprintConfig 蓝图配置：实例据此生成网络与虚拟机
type BlueprintConfig struct {
	Networks   []NetworkConfig `json:"networks" yaml:"networks"`
	VMs        []VMConfig      `json:"vms" yaml:"vms"`
	Router     *RouterConfig   `json:"router,omitempty" yaml:"router,omitempty"`
	MSEL       *MSELConfig     `json:"msel,omitempty" yaml:"msel,omitempty"`
	ContentIDs []string        `json:"content_ids,omitempty" yaml:"content_ids,omitempty"`
}

// NetworkConfig 网络模板
type NetworkConfig struct {
	Name            string `json:"name" yaml:"name"`
	Subnet          string `json:"subnet" yaml:"subnet"`
	Gateway         string `json:"gateway" yaml:"gateway"`
	IsIsolated      bool   `json:"is_isolated" yaml:"is_isolated"`
	InternetEnabled bool   `json:"internet_enabled" yaml:"internet_enabled"`
	DHCPEnabled     bool   `json:"dhcp_enabled" yaml:"dhcp_enabled"`
}

// VMConfig 虚拟机模板
//
// 镜像来源三选一：BaseImageID / GoldenImageID / SnapshotID。
type VMConfig struct {
	Hostname       string            `json:"hostname" yaml:"hostname"`
	IPAddress      string            `json:"ip_address" yaml:"ip_address"`
	NetworkName    string            `json:"network_name" yaml:"network_name"`
	BaseImageID    string            `json:"base_image_id,omitempty" yaml:"base_image_id,omitempty"`
	GoldenImageID  string            `json:"golden_image_id,omitempty" yaml:"golden_image_id,omitempty"`
	SnapshotID     string            `json:"snapshot_id,omitempty" yaml:"snapshot_id,omitempty"`
	CPU            int               `json:"cpu" yaml:"cpu"`
	RAMMB          int               `json:"ram_mb" yaml:"ram_mb"`
	DiskGB         int               `json:"disk_gb" yaml:"disk_gb"`
	PositionX      int               `json:"position_x" yaml:"position_x"`
	PositionY      int               `json:"position_y" yaml:"position_y"`
	WindowsVersion *string           `json:"windows_version,omitempty" yaml:"windows_version,omitempty"`
	Environment    map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// RouterConfig 路由器配置
type RouterConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	DHCPEnabled bool `json:"dhcp_enabled" yaml:"dhcp_enabled"`
}

// MSELConfig 主场景事件列表
type MSELConfig struct {
	Content     string `json:"content" yaml:"content"`
	Format      string `json:"format" yaml:"format"`
	Walkthrough JSONB  `json:"walkthrough,omitempty" yaml:"walkthrough,omitempty"`
}

// ImageSourceKind 镜像来源类型
type ImageSourceKind string

const (
	ImageSourceBase     ImageSourceKind = "base_image"
	ImageSourceGolden   ImageSourceKind = "golden_image"
	ImageSourceSnapshot ImageSourceKind = "snapshot"
)

// ImageSource 已解析的镜像来源
type ImageSource struct {
	Kind ImageSourceKind
	ID   uuid.UUID
}

// ResolveImageSource 按 base -> golden -> snapshot 的顺序取第一个可解析的来源
func (v VMConfig) ResolveImageSource() (ImageSource, bool) {
	candidates := []struct {
		kind ImageSourceKind
		raw  string
	}{
		{ImageSourceBase, v.BaseImageID},
		{ImageSourceGolden, v.GoldenImageID},
		{ImageSourceSnapshot, v.SnapshotID},
	}

	for _, c := range candidates {
		if c.raw == "" {
			continue
		}
		id, err := uuid.Parse(c.raw)
		if err != nil {
			continue
		}
		return ImageSource{Kind: c.kind, ID: id}, true
	}
	return ImageSource{}, false
}

func (v VMConfig) imageSourceCount() int {
	n := 0
	for _, raw := range []string{v.BaseImageID, v.GoldenImageID, v.SnapshotID} {
		if raw != "" {
			n++
		}
	}
	return n
}

// Scan 实现sql.Scanner接口
func (c *BlueprintConfig) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// Value 实现driver.Valuer接口
func (c BlueprintConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Checksum 配置内容摘要，用于判断编辑是否真正改变了内容
func (c BlueprintConfig) Checksum() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Validate 校验配置结构
//
// 虚拟机最多设置一个镜像来源。引用不存在的网络或镜像来源无法解析不在此处报错，
// 这些条目在实例化时被跳过并记录警告。
func (c BlueprintConfig) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Networks))

	for i, n := range c.Networks {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("networks[%d]: name is required", i))
		} else if _, dup := seen[n.Name]; dup {
			errs = append(errs, fmt.Errorf("networks[%d]: duplicate name %q", i, n.Name))
		}
		seen[n.Name] = struct{}{}

		if _, _, err := net.ParseCIDR(n.Subnet); err != nil {
			errs = append(errs, fmt.Errorf("networks[%d]: invalid subnet %q", i, n.Subnet))
		}
		if n.Gateway != "" && net.ParseIP(n.Gateway) == nil {
			errs = append(errs, fmt.Errorf("networks[%d]: invalid gateway %q", i, n.Gateway))
		}
	}

	for i, vm := range c.VMs {
		if vm.Hostname == "" {
			errs = append(errs, fmt.Errorf("vms[%d]: hostname is required", i))
		}
		if vm.IPAddress != "" && net.ParseIP(vm.IPAddress) == nil {
			errs = append(errs, fmt.Errorf("vms[%d]: invalid ip_address %q", i, vm.IPAddress))
		}
		if vm.imageSourceCount() > 1 {
			errs = append(errs, fmt.Errorf("vms[%d]: only one of base_image_id, golden_image_id, snapshot_id may be set", i))
		}
		if vm.CPU < 0 || vm.RAMMB < 0 || vm.DiskGB < 0 {
			errs = append(errs, fmt.Errorf("vms[%d]: resource sizing must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
