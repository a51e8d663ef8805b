package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cyroid/backend/internal/config"
	"github.com/cyroid/backend/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPostgresDB 创建数据库连接（Fx兼容）
func NewPostgresDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	return New(&cfg.Database, log)
}

// New 创建数据库连接
func New(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpenConns := cfg.MaxOpenConns
	if maxOpenConns == 0 {
		maxOpenConns = 50
	}

	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		// 空闲连接数取最大连接数的一半
		maxIdleConns = maxOpenConns / 2
	}

	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	log.Info("Database connection pool configured",
		zap.Int("max_open", maxOpenConns),
		zap.Int("max_idle", maxIdleConns),
		zap.Duration("max_lifetime", connMaxLifetime),
	)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	go monitorConnectionPool(sqlDB, log)

	// 生产环境使用 cmd/migrate 执行版本化迁移
	if cfg.AutoMigrate {
		log.Info("Running gorm auto migration")
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// AutoMigrate 自动迁移所有模型（开发环境与测试使用）
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Blueprint{},
		&domain.BlueprintVersion{},
		&domain.Range{},
		&domain.Network{},
		&domain.VM{},
		&domain.MSEL{},
		&domain.RangeInstance{},
		&domain.AuditLog{},
	)
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// monitorConnectionPool 定期记录连接池状态
func monitorConnectionPool(sqlDB *sql.DB, log *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := sqlDB.Stats()

		log.Debug("Connection pool stats",
			zap.Int("open", stats.OpenConnections),
			zap.Int("in_use", stats.InUse),
			zap.Int("idle", stats.Idle),
			zap.Int64("wait_count", stats.WaitCount),
			zap.Duration("wait_duration", stats.WaitDuration),
		)

		if stats.OpenConnections > 0 && float64(stats.InUse)/float64(stats.OpenConnections) > 0.9 {
			log.Warn("Connection pool nearly saturated",
				zap.Int("in_use", stats.InUse),
				zap.Int("open", stats.OpenConnections),
			)
		}
	}
}
