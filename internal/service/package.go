package service

import (
	"fmt"
	"strings"

	"github.com/cyroid/backend/internal/addressing"
	"github.com/cyroid/backend/internal/domain"
	"github.com/goccy/go-yaml"
)

// BlueprintPackage 可导入的蓝图描述，内置蓝图文件使用同一格式
type BlueprintPackage struct {
	SeedID           string                 `json:"seed_id,omitempty" yaml:"seed_id,omitempty"`
	Name             string                 `json:"name" yaml:"name" binding:"required"`
	Description      string                 `json:"description" yaml:"description"`
	BaseSubnetPrefix string                 `json:"base_subnet_prefix,omitempty" yaml:"base_subnet_prefix,omitempty"`
	Config           domain.BlueprintConfig `json:"config" yaml:"config"`
}

// ParsePackage 解析YAML或JSON格式的蓝图包
func ParsePackage(data []byte) (*BlueprintPackage, error) {
	var pkg BlueprintPackage
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	return &pkg, nil
}

// Blueprint 校验蓝图包并生成待创建的蓝图
//
// 未给出基准前缀时取第一个网络子网的前两段；没有网络时前缀为空，
// 实例化时地址原样复制。
func (p *BlueprintPackage) Blueprint() (*domain.Blueprint, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPackage)
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}

	prefix := strings.TrimSpace(p.BaseSubnetPrefix)
	if prefix == "" && len(p.Config.Networks) > 0 {
		prefix = addressing.ExtractPrefix(p.Config.Networks[0].Subnet)
	}

	var basePrefix *string
	if prefix != "" {
		if !addressing.ValidPrefix(prefix) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBasePrefix, prefix)
		}
		basePrefix = &prefix
	}

	var seedID *string
	if p.SeedID != "" {
		id := p.SeedID
		seedID = &id
	}

	next := 0
	return &domain.Blueprint{
		SeedID:           seedID,
		Name:             name,
		Description:      p.Description,
		Version:          1,
		Config:           p.Config,
		BaseSubnetPrefix: basePrefix,
		NextOffset:       &next,
	}, nil
}
