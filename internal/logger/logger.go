package logger

import (
	"github.com/cyroid/backend/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger 创建日志器（Fx兼容）
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return New(&cfg.Logging)
}

// New 根据日志配置创建zap日志器
func New(cfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.EncoderConfig.TimeKey = "ts"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.OutputPath != "" && cfg.OutputPath != "stdout" {
		zapConfig.OutputPaths = []string{cfg.OutputPath}
	}

	return zapConfig.Build(zap.Fields(zap.String("service", "cyroid")))
}

// Component 为子系统创建带组件名的日志器
func Component(log *zap.Logger, name string) *zap.Logger {
	return log.Named(name).With(zap.String("component", name))
}
