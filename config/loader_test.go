package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "botcore", cfg.Mongo.Database)
	assert.Equal(t, 30, cfg.RateLimit.Capacity)
	assert.Equal(t, float64(25), cfg.Broadcast.TargetRate)
	assert.Equal(t, 60*time.Minute, cfg.Memory.GlobalTTL)
	assert.Equal(t, 15*time.Minute, cfg.Memory.TenantTTL)
	assert.Equal(t, 5*time.Minute, cfg.Memory.UserTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
redis:
  addr: redis.internal:6379
memory:
  tenant_ttl: 5m
  manager:
    history_limit: 10
rate_limit:
  capacity: 10
  refill: 5
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Memory.TenantTTL)
	assert.Equal(t, 10, cfg.Memory.Manager.HistoryLimit)
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.Equal(t, float64(5), cfg.RateLimit.Refill)

	// 未覆盖的字段保持默认值
	assert.Equal(t, 60*time.Minute, cfg.Memory.GlobalTTL)
	assert.Equal(t, 25.0, cfg.Broadcast.TargetRate)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o644))

	t.Setenv("BOTCORE_SERVER_HTTP_PORT", "7070")
	t.Setenv("BOTCORE_REDIS_ADDR", "env-redis:6379")
	t.Setenv("BOTCORE_MEMORY_GLOBAL_TTL", "90m")
	t.Setenv("BOTCORE_GENAI_MODEL", "gpt-4o")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 90*time.Minute, cfg.Memory.GlobalTTL)
	assert.Equal(t, "gpt-4o", cfg.GenAI.Model)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/no/such/file.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_MalformedYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoader_ValidatorRejects(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			c.RateLimit.Capacity = 0
			return c.Validate()
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit.capacity")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Broadcast.TargetRate = 0
	cfg.Memory.UserTTL = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast.target_rate")
	assert.Contains(t, err.Error(), "memory TTLs")
}
