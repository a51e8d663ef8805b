// Package migrations 嵌入式SQL迁移
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed *.sql
var migrations embed.FS

// Migrator 数据库迁移器
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator 创建迁移器
func NewMigrator(db *sql.DB, log *zap.Logger) (*Migrator, error) {
	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "cyroid_schema_migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = &zapMigrateLogger{log: log}

	return &Migrator{m: m}, nil
}

// Up 执行所有待执行的迁移
func (migrator *Migrator) Up() error {
	if err := migrator.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate up: %w", err)
	}
	return nil
}

// Down 回滚所有迁移
func (migrator *Migrator) Down() error {
	if err := migrator.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate down: %w", err)
	}
	return nil
}

// Steps 正数向前、负数向后执行n步
func (migrator *Migrator) Steps(n int) error {
	if err := migrator.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate %d steps: %w", n, err)
	}
	return nil
}

// Force 将版本标记为v并清除dirty标记（迁移中断后人工修复用）
func (migrator *Migrator) Force(v int) error {
	if err := migrator.m.Force(v); err != nil {
		return fmt.Errorf("failed to force version %d: %w", v, err)
	}
	return nil
}

// Version 当前迁移版本，未执行过任何迁移时返回0
func (migrator *Migrator) Version() (uint, bool, error) {
	version, dirty, err := migrator.m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Close 关闭迁移器
func (migrator *Migrator) Close() error {
	sourceErr, dbErr := migrator.m.Close()
	return errors.Join(sourceErr, dbErr)
}

// zapMigrateLogger 将 migrate 的日志转给 zap
type zapMigrateLogger struct {
	log *zap.Logger
}

func (l *zapMigrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *zapMigrateLogger) Verbose() bool {
	return l.log.Core().Enabled(zap.DebugLevel)
}
