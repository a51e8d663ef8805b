// Package runtime 靶场运行时（容器/虚拟机宿主）客户端
//
// 控制面不直接操作Docker或QEMU，而是把靶场规格交给运行时代理。
package runtime

import (
	"context"

	"github.com/cyroid/backend/internal/config"
	"github.com/cyroid/backend/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runtime 运行时接口
type Runtime interface {
	// Provision 按规格创建或替换靶场的全部基础设施，需幂等
	Provision(ctx context.Context, spec *RangeSpec) error
	// Destroy 销毁靶场基础设施，靶场不存在视为成功
	Destroy(ctx context.Context, rangeID uuid.UUID) error
	// ListRangeIDs 列出运行时上存在的全部靶场
	ListRangeIDs(ctx context.Context) ([]uuid.UUID, error)
}

// RangeSpec 下发给运行时的靶场规格
type RangeSpec struct {
	RangeID           uuid.UUID     `json:"range_id"`
	Name              string        `json:"name"`
	RouterEnabled     bool          `json:"router_enabled"`
	RouterDHCPEnabled bool          `json:"router_dhcp_enabled"`
	Networks          []NetworkSpec `json:"networks"`
	VMs               []VMSpec      `json:"vms"`
}

// NetworkSpec 网络规格
type NetworkSpec struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Subnet          string    `json:"subnet"`
	Gateway         string    `json:"gateway"`
	IsIsolated      bool      `json:"is_isolated"`
	InternetEnabled bool      `json:"internet_enabled"`
	DHCPEnabled     bool      `json:"dhcp_enabled"`
}

// VMSpec 虚拟机规格
type VMSpec struct {
	ID             uuid.UUID         `json:"id"`
	Hostname       string            `json:"hostname"`
	NetworkID      uuid.UUID         `json:"network_id"`
	IPAddress      string            `json:"ip_address"`
	CPU            int               `json:"cpu"`
	RAMMB          int               `json:"ram_mb"`
	DiskGB         int               `json:"disk_gb"`
	ImageKind      string            `json:"image_kind"`
	ImageID        uuid.UUID         `json:"image_id"`
	WindowsVersion string            `json:"windows_version,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
}

// SpecFromRange 由已加载网络和虚拟机的靶场构造规格
func SpecFromRange(rng *domain.Range) *RangeSpec {
	spec := &RangeSpec{
		RangeID:           rng.ID,
		Name:              rng.Name,
		RouterEnabled:     rng.RouterEnabled,
		RouterDHCPEnabled: rng.RouterDHCPEnabled,
		Networks:          make([]NetworkSpec, 0, len(rng.Networks)),
		VMs:               make([]VMSpec, 0, len(rng.VMs)),
	}

	for _, n := range rng.Networks {
		spec.Networks = append(spec.Networks, NetworkSpec{
			ID:              n.ID,
			Name:            n.Name,
			Subnet:          n.Subnet,
			Gateway:         n.Gateway,
			IsIsolated:      n.IsIsolated,
			InternetEnabled: n.InternetEnabled,
			DHCPEnabled:     n.DHCPEnabled,
		})
	}

	for _, vm := range rng.VMs {
		vs := VMSpec{
			ID:          vm.ID,
			Hostname:    vm.Hostname,
			NetworkID:   vm.NetworkID,
			IPAddress:   vm.IPAddress,
			CPU:         vm.CPU,
			RAMMB:       vm.RAMMB,
			DiskGB:      vm.DiskGB,
			Environment: vm.Environment,
		}
		if src, ok := vm.ImageSource(); ok {
			vs.ImageKind = string(src.Kind)
			vs.ImageID = src.ID
		}
		if vm.WindowsVersion != nil {
			vs.WindowsVersion = *vm.WindowsVersion
		}
		spec.VMs = append(spec.VMs, vs)
	}

	return spec
}

// NewRuntime 按配置选择运行时实现（Fx兼容）：未配置代理地址时使用dry-run
func NewRuntime(cfg *config.Config, logger *zap.Logger) Runtime {
	if cfg.Runtime.AgentURL == "" {
		logger.Warn("RUNTIME_AGENT_URL not set, using dry-run runtime")
		return NewDryRun(logger)
	}
	return NewAgentClient(&cfg.Runtime, logger)
}
