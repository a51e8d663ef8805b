package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "cyroid", cfg.Database.DBName)
	assert.Equal(t, "cyroid:provision:queue", cfg.Provisioning.QueueKey)
	assert.Equal(t, 2*time.Minute, cfg.Provisioning.OperationLockTTL)
	assert.Empty(t, cfg.Runtime.AgentURL)
	assert.True(t, cfg.Auth.Required)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("INSTANCE_LOCK_TTL", "30s")
	t.Setenv("RUNTIME_AGENT_URL", "http://agent:7000")
	t.Setenv("REDIS_PORT", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://range.example.org, https://ops.example.org,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 30*time.Second, cfg.Provisioning.OperationLockTTL)
	assert.Equal(t, "http://agent:7000", cfg.Runtime.AgentURL)
	// 无法解析时回退到默认值
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, []string{"https://range.example.org", "https://ops.example.org"}, cfg.Server.CORSOrigins)
}

func TestLoad_RejectsNonPositiveWorkers(t *testing.T) {
	t.Setenv("PROVISION_WORKERS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSNAndURL(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "cyroid", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=cyroid sslmode=disable", c.DSN())
	assert.Equal(t, "postgres://u:p@db:5432/cyroid?sslmode=disable", c.URL())
}
