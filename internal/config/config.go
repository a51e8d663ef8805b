package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用配置
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Logging      LoggingConfig
	Metrics      MetricsConfig
	Auth         AuthConfig
	Provisioning ProvisioningConfig
	Runtime      RuntimeConfig
	Sweep        SweepConfig
	Seed         SeedConfig
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CORSOrigins 允许的跨域来源，"*" 表示全部
	CORSOrigins []string
	// RateLimitPerMinute 每个客户端IP每分钟的请求上限，0表示不限制
	RateLimitPerMinute int
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string
	Format     string // "json" or "console"
	OutputPath string
}

// MetricsConfig 监控指标配置
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret     string
	TokenDuration time.Duration
	// Required 为false时允许匿名请求（开发环境）
	Required bool
}

// ProvisioningConfig 部署队列配置
type ProvisioningConfig struct {
	QueueKey     string
	Workers      int
	BlockTimeout time.Duration
	// 实例操作锁（reset/redeploy/delete）的过期时间
	OperationLockTTL time.Duration
}

// RuntimeConfig 靶场运行时代理配置
type RuntimeConfig struct {
	// AgentURL 为空时使用dry-run运行时
	AgentURL   string
	Timeout    time.Duration
	RetryCount int
}

// SweepConfig 孤儿资源清理配置
type SweepConfig struct {
	Enabled  bool
	Schedule string
}

// SeedConfig 内置蓝图配置
type SeedConfig struct {
	Dir string
}

// LoadConfig 从环境变量加载配置（Fx兼容）
func LoadConfig() (*Config, error) {
	return Load()
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			CORSOrigins:        getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 600),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "cyroid"),
			Password:        getEnv("DB_PASSWORD", "cyroid_dev_password"),
			DBName:          getEnv("DB_NAME", "cyroid"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Port:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", "cyroid_dev_secret"),
			TokenDuration: getEnvAsDuration("JWT_TOKEN_DURATION", 24*time.Hour),
			Required:      getEnvAsBool("AUTH_REQUIRED", true),
		},
		Provisioning: ProvisioningConfig{
			QueueKey:         getEnv("PROVISION_QUEUE_KEY", "cyroid:provision:queue"),
			Workers:          getEnvAsInt("PROVISION_WORKERS", 4),
			BlockTimeout:     getEnvAsDuration("PROVISION_BLOCK_TIMEOUT", 5*time.Second),
			OperationLockTTL: getEnvAsDuration("INSTANCE_LOCK_TTL", 2*time.Minute),
		},
		Runtime: RuntimeConfig{
			AgentURL:   getEnv("RUNTIME_AGENT_URL", ""),
			Timeout:    getEnvAsDuration("RUNTIME_AGENT_TIMEOUT", 60*time.Second),
			RetryCount: getEnvAsInt("RUNTIME_AGENT_RETRIES", 3),
		},
		Sweep: SweepConfig{
			Enabled:  getEnvAsBool("ORPHAN_SWEEP_ENABLED", true),
			Schedule: getEnv("ORPHAN_SWEEP_SCHEDULE", "@every 10m"),
		},
		Seed: SeedConfig{
			Dir: getEnv("BLUEPRINT_SEED_DIR", ""),
		},
	}

	if cfg.Provisioning.Workers <= 0 {
		return nil, fmt.Errorf("PROVISION_WORKERS must be positive, got %d", cfg.Provisioning.Workers)
	}

	return cfg, nil
}

// DSN 生成PostgreSQL连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL 生成golang-migrate使用的连接URL
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Addr 生成Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
