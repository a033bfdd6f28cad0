// =============================================================================
// 📦 botcore 配置
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("BOTCORE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/94cram/botcore/broadcast"
	"github.com/94cram/botcore/internal/cache"
	"github.com/94cram/botcore/internal/genai"
	"github.com/94cram/botcore/internal/storage"
	"github.com/94cram/botcore/memory"
	"github.com/94cram/botcore/ratelimit"
)

// Config 是 botcore 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Redis 分布式缓存配置
	Redis cache.RedisConfig `yaml:"redis"`

	// Mongo 持久化存储配置
	Mongo storage.Config `yaml:"mongo"`

	// GenAI 摘要/提取模型配置
	GenAI genai.Config `yaml:"genai"`

	// Memory 记忆子系统配置
	Memory MemoryConfig `yaml:"memory"`

	// RateLimit 入站限流配置
	RateLimit ratelimit.Config `yaml:"rate_limit"`

	// Broadcast 出站广播配置
	Broadcast broadcast.Config `yaml:"broadcast"`

	// Telegram 广播出口配置
	Telegram broadcast.TelegramConfig `yaml:"telegram"`

	// Janitor 后台清扫配置
	Janitor JanitorConfig `yaml:"janitor"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口（健康检查 + 指标）
	HTTPPort int `yaml:"http_port"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 输出格式: json, console
	Format string `yaml:"format"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller"`
}

// MemoryConfig 记忆子系统配置
type MemoryConfig struct {
	// Manager 编排器配置
	Manager memory.ManagerConfig `yaml:"manager"`

	// User 用户文档边界配置
	User memory.UserConfig `yaml:"user"`

	// GlobalTTL 全局记忆缓存 TTL
	GlobalTTL time.Duration `yaml:"global_ttl"`

	// TenantTTL 租户记忆缓存 TTL
	TenantTTL time.Duration `yaml:"tenant_ttl"`

	// UserTTL 用户记忆缓存 TTL
	UserTTL time.Duration `yaml:"user_ttl"`

	// CacheCapacity 每个进程内缓存层的条目上限
	CacheCapacity int `yaml:"cache_capacity"`
}

// JanitorConfig 后台清扫配置
type JanitorConfig struct {
	// BucketSweepSpec 限流桶清扫调度（cron 表达式或 @every 语法）
	BucketSweepSpec string `yaml:"bucket_sweep_spec"`

	// JobSweepSpec 广播任务清扫调度
	JobSweepSpec string `yaml:"job_sweep_spec"`

	// BucketIdle 限流桶空闲多久后回收
	BucketIdle time.Duration `yaml:"bucket_idle"`

	// JobRetention 已完成广播任务保留多久
	JobRetention time.Duration `yaml:"job_retention"`
}

// DefaultConfig 返回完整默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			EnableCaller: true,
		},
		Redis:     cache.DefaultRedisConfig(),
		Mongo:     storage.DefaultConfig(),
		GenAI:     genai.DefaultConfig(),
		Memory:    DefaultMemoryConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Broadcast: broadcast.DefaultConfig(),
		Telegram:  broadcast.TelegramConfig{Timeout: 10 * time.Second},
		Janitor: JanitorConfig{
			BucketSweepSpec: "@every 5m",
			JobSweepSpec:    "@every 1h",
			BucketIdle:      3 * time.Minute,
			JobRetention:    24 * time.Hour,
		},
	}
}

// DefaultMemoryConfig 返回记忆子系统的默认配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Manager:       memory.DefaultManagerConfig(),
		User:          memory.DefaultUserConfig(),
		GlobalTTL:     60 * time.Minute,
		TenantTTL:     15 * time.Minute,
		UserTTL:       5 * time.Minute,
		CacheCapacity: 4096,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.RateLimit.Capacity <= 0 {
		errs = append(errs, "rate_limit.capacity must be positive")
	}
	if c.RateLimit.Refill <= 0 {
		errs = append(errs, "rate_limit.refill must be positive")
	}
	if c.Broadcast.TargetRate <= 0 {
		errs = append(errs, "broadcast.target_rate must be positive")
	}
	if c.Memory.GlobalTTL <= 0 || c.Memory.TenantTTL <= 0 || c.Memory.UserTTL <= 0 {
		errs = append(errs, "memory TTLs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
