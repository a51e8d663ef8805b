package service

import (
	"context"
	"fmt"

	"github.com/cyroid/backend/internal/addressing"
	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/repository"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// 虚拟机资源默认值，与数据库列默认值一致
const (
	defaultCPU    = 1
	defaultRAMMB  = 1024
	defaultDiskGB = 20
)

// 跳过虚拟机条目的原因
const (
	SkipUnknownNetwork = "unknown_network"
	SkipNoImageSource  = "no_image_source"
)

// Warning 实例化时被跳过的虚拟机条目
type Warning struct {
	Hostname string `json:"hostname"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail"`
}

// Result 一次实例化生成的资源
type Result struct {
	Networks []domain.Network
	VMs      []domain.VM
	MSEL     *domain.MSEL
	Warnings []Warning
}

// Materializer 把蓝图配置按偏移量展开为靶场的网络、虚拟机和MSEL
type Materializer struct {
	rangeRepo repository.RangeRepository
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewMaterializer 创建实例化器
func NewMaterializer(rangeRepo repository.RangeRepository, m *metrics.Metrics, logger *zap.Logger) *Materializer {
	return &Materializer{
		rangeRepo: rangeRepo,
		metrics:   m,
		logger:    logger,
	}
}

// Plan 计算实例化结果，不访问数据库
//
// 网络和虚拟机的ID在此预先生成，虚拟机据此引用所在网络。
func (m *Materializer) Plan(rangeID uuid.UUID, cfg domain.BlueprintConfig, basePrefix string, offset int) (*Result, error) {
	shifter, err := addressing.NewShifter(basePrefix, offset)
	if err != nil {
		return nil, err
	}
	if shifter.Passthrough() {
		m.logger.Warn("Base subnet prefix is not usable, addresses are copied unshifted",
			zap.String("range_id", rangeID.String()),
			zap.String("base_prefix", basePrefix),
			zap.Int("offset", offset),
		)
	}

	res := &Result{
		Networks: make([]domain.Network, 0, len(cfg.Networks)),
		VMs:      make([]domain.VM, 0, len(cfg.VMs)),
	}
	networkIDs := make(map[string]uuid.UUID, len(cfg.Networks))

	for _, nc := range cfg.Networks {
		n := domain.Network{
			ID:              uuid.New(),
			RangeID:         rangeID,
			Name:            nc.Name,
			Subnet:          m.shift(rangeID, shifter, nc.Subnet),
			IsIsolated:      nc.IsIsolated,
			InternetEnabled: nc.InternetEnabled,
			DHCPEnabled:     nc.DHCPEnabled,
		}
		if nc.Gateway != "" {
			n.Gateway = m.shift(rangeID, shifter, nc.Gateway)
		}
		res.Networks = append(res.Networks, n)
		networkIDs[nc.Name] = n.ID
	}

	for _, vc := range cfg.VMs {
		networkID, ok := networkIDs[vc.NetworkName]
		if !ok {
			res.Warnings = append(res.Warnings, Warning{
				Hostname: vc.Hostname,
				Reason:   SkipUnknownNetwork,
				Detail:   fmt.Sprintf("network %q is not defined", vc.NetworkName),
			})
			continue
		}

		src, ok := vc.ResolveImageSource()
		if !ok {
			res.Warnings = append(res.Warnings, Warning{
				Hostname: vc.Hostname,
				Reason:   SkipNoImageSource,
				Detail:   "no base image, golden image or snapshot id could be resolved",
			})
			continue
		}

		vm := domain.VM{
			ID:          uuid.New(),
			RangeID:     rangeID,
			NetworkID:   networkID,
			Hostname:    vc.Hostname,
			CPU:         orDefault(vc.CPU, defaultCPU),
			RAMMB:       orDefault(vc.RAMMB, defaultRAMMB),
			DiskGB:      orDefault(vc.DiskGB, defaultDiskGB),
			PositionX:   vc.PositionX,
			PositionY:   vc.PositionY,
			Environment: copyEnv(vc.Environment),
			Status:      domain.VMStatusPending,
		}
		if vc.IPAddress != "" {
			vm.IPAddress = m.shift(rangeID, shifter, vc.IPAddress)
		}
		if vc.WindowsVersion != nil {
			v := *vc.WindowsVersion
			vm.WindowsVersion = &v
		}
		vm.SetImageSource(src)
		res.VMs = append(res.VMs, vm)
	}

	if cfg.MSEL != nil {
		format := cfg.MSEL.Format
		if format == "" {
			format = "markdown"
		}
		res.MSEL = &domain.MSEL{
			ID:          uuid.New(),
			RangeID:     rangeID,
			Content:     cfg.MSEL.Content,
			Format:      format,
			Walkthrough: cfg.MSEL.Walkthrough,
		}
	}

	return res, nil
}

// Materialize 生成资源并写入数据库，同时把路由器与内容配置写回靶场
//
// 调用方负责事务，任一写入失败时整个实例化回滚。
func (m *Materializer) Materialize(ctx context.Context, rng *domain.Range, cfg domain.BlueprintConfig, basePrefix string, offset int) (*Result, error) {
	res, err := m.Plan(rng.ID, cfg, basePrefix, offset)
	if err != nil {
		return nil, err
	}

	if err := m.rangeRepo.CreateNetworks(ctx, res.Networks); err != nil {
		return nil, fmt.Errorf("failed to create networks: %w", err)
	}
	if err := m.rangeRepo.CreateVMs(ctx, res.VMs); err != nil {
		return nil, fmt.Errorf("failed to create vms: %w", err)
	}
	if res.MSEL != nil {
		if err := m.rangeRepo.CreateMSEL(ctx, res.MSEL); err != nil {
			return nil, fmt.Errorf("failed to create msel: %w", err)
		}
	}

	rng.RouterEnabled = cfg.Router != nil && cfg.Router.Enabled
	rng.RouterDHCPEnabled = cfg.Router != nil && cfg.Router.DHCPEnabled
	rng.ContentIDs = pq.StringArray(cfg.ContentIDs)
	if err := m.rangeRepo.Update(ctx, rng); err != nil {
		return nil, fmt.Errorf("failed to update range: %w", err)
	}

	m.metrics.VMsMaterialized.Add(float64(len(res.VMs)))
	for _, w := range res.Warnings {
		m.metrics.VMsSkipped.WithLabelValues(w.Reason).Inc()
		m.logger.Warn("Skipped VM during materialization",
			zap.String("range_id", rng.ID.String()),
			zap.String("hostname", w.Hostname),
			zap.String("reason", w.Reason),
			zap.String("detail", w.Detail),
		)
	}

	m.logger.Info("Materialized range",
		zap.String("range_id", rng.ID.String()),
		zap.Int("offset", offset),
		zap.Int("networks", len(res.Networks)),
		zap.Int("vms", len(res.VMs)),
		zap.Int("skipped", len(res.Warnings)),
	)

	return res, nil
}

// shift 前两段与基准前缀不一致的地址原样复制并记录警告，这类地址在实例之间可能重叠
func (m *Materializer) shift(rangeID uuid.UUID, s *addressing.Shifter, value string) string {
	shifted, ok := s.Shift(value)
	if !ok && !s.Passthrough() {
		m.logger.Warn("Address does not match base prefix, copied unshifted",
			zap.String("range_id", rangeID.String()),
			zap.String("value", value),
			zap.String("base_prefix", s.BasePrefix()),
			zap.Int("offset", s.Offset()),
		)
	}
	return shifted
}

// ExtractConfig 从已有靶场反推蓝图配置，用于以靶场创建蓝图
func ExtractConfig(rng *domain.Range) domain.BlueprintConfig {
	cfg := domain.BlueprintConfig{
		Networks: make([]domain.NetworkConfig, 0, len(rng.Networks)),
		VMs:      make([]domain.VMConfig, 0, len(rng.VMs)),
	}

	names := make(map[uuid.UUID]string, len(rng.Networks))
	for _, n := range rng.Networks {
		names[n.ID] = n.Name
		cfg.Networks = append(cfg.Networks, domain.NetworkConfig{
			Name:            n.Name,
			Subnet:          n.Subnet,
			Gateway:         n.Gateway,
			IsIsolated:      n.IsIsolated,
			InternetEnabled: n.InternetEnabled,
			DHCPEnabled:     n.DHCPEnabled,
		})
	}

	for _, vm := range rng.VMs {
		vc := domain.VMConfig{
			Hostname:    vm.Hostname,
			IPAddress:   vm.IPAddress,
			NetworkName: names[vm.NetworkID],
			CPU:         vm.CPU,
			RAMMB:       vm.RAMMB,
			DiskGB:      vm.DiskGB,
			PositionX:   vm.PositionX,
			PositionY:   vm.PositionY,
			Environment: copyEnv(vm.Environment),
		}
		if vm.WindowsVersion != nil {
			v := *vm.WindowsVersion
			vc.WindowsVersion = &v
		}
		if src, ok := vm.ImageSource(); ok {
			switch src.Kind {
			case domain.ImageSourceBase:
				vc.BaseImageID = src.ID.String()
			case domain.ImageSourceGolden:
				vc.GoldenImageID = src.ID.String()
			case domain.ImageSourceSnapshot:
				vc.SnapshotID = src.ID.String()
			}
		}
		cfg.VMs = append(cfg.VMs, vc)
	}

	if rng.RouterEnabled {
		cfg.Router = &domain.RouterConfig{Enabled: true, DHCPEnabled: rng.RouterDHCPEnabled}
	}
	if rng.MSEL != nil {
		cfg.MSEL = &domain.MSELConfig{
			Content:     rng.MSEL.Content,
			Format:      rng.MSEL.Format,
			Walkthrough: rng.MSEL.Walkthrough,
		}
	}
	if len(rng.ContentIDs) > 0 {
		cfg.ContentIDs = append([]string(nil), rng.ContentIDs...)
	}

	return cfg
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func copyEnv(env map[string]string) domain.StringMap {
	if len(env) == 0 {
		return nil
	}
	out := make(domain.StringMap, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
