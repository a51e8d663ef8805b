package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SeedReport 内置蓝图加载结果
type SeedReport struct {
	Created   int
	Updated   int
	Unchanged int
}

// SeedFromDirectory 加载目录下的内置蓝图（*.yaml / *.yml）
//
// 按seed_id幂等：已存在的蓝图只在内容变化时更新，配置变化时版本号加一。
// 基准前缀和偏移量计数器在创建后不再由种子文件修改。
// 单个文件出错不影响其他文件，所有错误合并返回。
func (s *BlueprintService) SeedFromDirectory(ctx context.Context, dir string) (SeedReport, error) {
	var report SeedReport

	files, err := seedFiles(dir)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, path := range files {
		outcome, err := s.seedFile(ctx, path)
		if err != nil {
			s.logger.Error("Failed to load seed blueprint", zap.String("file", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		switch outcome {
		case seedCreated:
			report.Created++
		case seedUpdated:
			report.Updated++
		default:
			report.Unchanged++
		}
	}

	s.logger.Info("Seed blueprints loaded",
		zap.String("dir", dir),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", len(errs)),
	)
	return report, errors.Join(errs...)
}

type seedOutcome int

const (
	seedUnchanged seedOutcome = iota
	seedCreated
	seedUpdated
)

func (s *BlueprintService) seedFile(ctx context.Context, path string) (seedOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return seedUnchanged, err
	}

	pkg, err := ParsePackage(data)
	if err != nil {
		return seedUnchanged, err
	}
	if pkg.SeedID == "" {
		return seedUnchanged, fmt.Errorf("%w: seed_id is required", ErrInvalidPackage)
	}

	fresh, err := pkg.Blueprint()
	if err != nil {
		return seedUnchanged, err
	}

	outcome := seedUnchanged
	err = s.txm.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.blueprints.FindBySeedID(ctx, pkg.SeedID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.create(ctx, fresh); err != nil {
				return err
			}
			outcome = seedCreated
			return nil
		}
		if err != nil {
			return err
		}

		changed, err := s.applyConfig(ctx, existing, fresh.Config)
		if err != nil {
			return err
		}
		if changed {
			outcome = seedUpdated
		}

		if existing.Name != fresh.Name || existing.Description != fresh.Description {
			existing.Name = fresh.Name
			existing.Description = fresh.Description
			if err := s.blueprints.Update(ctx, existing); err != nil {
				return fmt.Errorf("failed to update blueprint: %w", err)
			}
			outcome = seedUpdated
		}
		return nil
	})
	return outcome, err
}

// seedFiles 返回目录下按文件名排序的YAML文件，目录不存在时返回空
func seedFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
