package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ngoclaw/scenegate/internal/domain/prompt"
)

// EnvPrefix 环境变量前缀，例如 SCENEGATE_SERVER_PORT
const EnvPrefix = "SCENEGATE"

// Config 应用配置
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Inference    InferenceConfig    `mapstructure:"inference"`
	Prompt       PromptConfig       `mapstructure:"prompt"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Intake       IntakeConfig       `mapstructure:"intake"`
	Profiles     ProfilesConfig     `mapstructure:"profiles"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Health       HealthConfig       `mapstructure:"health"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // local, production
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres, memory
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// InferenceConfig 推理引擎配置
type InferenceConfig struct {
	Provider         string        `mapstructure:"provider"` // openai, echo
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`

	// TokenizerURL 精确计数接口；为空时由 base_url 推导 /tokenize，off 关闭
	TokenizerURL string `mapstructure:"tokenizer_url"`

	// Fallbacks 主后端不可用时按顺序尝试的备用后端 (仅 openai)
	Fallbacks        []InferenceBackend `mapstructure:"fallbacks"`
	FailoverCooldown time.Duration      `mapstructure:"failover_cooldown"`
}

// InferenceBackend 备用推理后端
type InferenceBackend struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"` // 为空时沿用主模型
}

// PromptConfig 提示词组装配置
type PromptConfig struct {
	Budget            prompt.TokenBudget `mapstructure:"budget"`
	DefaultTier       string             `mapstructure:"default_tier"`
	IncludeAdminTurns bool               `mapstructure:"include_admin_turns"`
	MemoCapacity      int                `mapstructure:"memo_capacity"`
}

// OrchestratorConfig 回复任务编排配置
type OrchestratorConfig struct {
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	CommitTimeout   time.Duration `mapstructure:"commit_timeout"`
	HistoryWindow   int           `mapstructure:"history_window"`
	ArchiveSchedule string        `mapstructure:"archive_schedule"` // cron spec, empty disables
	ArchiveAfter    time.Duration `mapstructure:"archive_after"`
}

// IntakeConfig 表单接入配置
type IntakeConfig struct {
	// FieldMap maps external form field refs to canonical scenario fields.
	FieldMap map[string]string `mapstructure:"field_map"`
}

// ProfilesConfig 提示词配置文件加载
type ProfilesConfig struct {
	Dir     string `mapstructure:"dir"`
	Watch   bool   `mapstructure:"watch"`
	Default string `mapstructure:"default"` // profile name activated when none is active
}

// RedisConfig 任务事件跨进程广播
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// HealthConfig gRPC 健康检查
type HealthConfig struct {
	GRPCEnabled bool `mapstructure:"grpc_enabled"`
	GRPCPort    int  `mapstructure:"grpc_port"`
}

// Load 加载配置
func Load() (*Config, error) {
	loadEnvFiles()

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 优先级 (低 → 高): 默认值 → 全局 ~/.scenegate/ → 项目本地 → 环境变量
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置 ~/.scenegate/config.yaml
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置 ./config/config.yaml 或 ./config.yaml，用 MergeConfigMap 叠加
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", localPath, err)
			}
			_ = v.MergeConfigMap(v2.AllSettings())
			break // 只取第一个找到的本地配置
		}
	}

	// 环境变量覆盖
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

// LoadFile 只从指定文件加载（叠加默认值与环境变量），供 CLI --config 使用
func LoadFile(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

// Default 返回纯默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := decode(v)
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("database.type %q not supported", c.Database.Type)
	}
	switch c.Inference.Provider {
	case "openai", "echo":
	default:
		return fmt.Errorf("inference.provider %q not supported", c.Inference.Provider)
	}
	for i, fb := range c.Inference.Fallbacks {
		if fb.BaseURL == "" {
			return fmt.Errorf("inference.fallbacks[%d].base_url is required", i)
		}
	}
	if err := c.Prompt.Budget.Validate(); err != nil {
		return fmt.Errorf("prompt.budget: %w", err)
	}
	if _, err := prompt.ParseTier(c.Prompt.DefaultTier); err != nil {
		return fmt.Errorf("prompt.default_tier: %w", err)
	}
	if c.Orchestrator.TaskTimeout <= 0 {
		return fmt.Errorf("orchestrator.task_timeout must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// loadEnvFiles loads .env files from the working directory and the config
// home. godotenv.Load never overwrites variables that are already set.
func loadEnvFiles() {
	for _, f := range []string{
		".env",
		".env.local",
		filepath.Join(HomeDir(), ".env"),
	} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 18790)
	v.SetDefault("server.mode", "local")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	// Database
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "scenegate.db")
	v.SetDefault("database.log_level", "warn")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	// Inference
	v.SetDefault("inference.provider", "echo")
	v.SetDefault("inference.base_url", "http://localhost:8080/v1")
	v.SetDefault("inference.model", "default")
	v.SetDefault("inference.timeout", "45s")
	v.SetDefault("inference.breaker_threshold", 5)
	v.SetDefault("inference.breaker_cooldown", "30s")
	v.SetDefault("inference.failover_cooldown", "1m")

	// Prompt
	def := prompt.DefaultTokenBudget()
	v.SetDefault("prompt.budget.total", def.Total)
	v.SetDefault("prompt.budget.fixed_allowance", def.FixedAllowance)
	v.SetDefault("prompt.budget.response_allowance", def.ResponseAllowance)
	v.SetDefault("prompt.budget.max_messages", def.MaxMessages)
	v.SetDefault("prompt.default_tier", string(prompt.DefaultTier))
	v.SetDefault("prompt.include_admin_turns", false)
	v.SetDefault("prompt.memo_capacity", 1000)

	// Orchestrator
	v.SetDefault("orchestrator.task_timeout", "60s")
	v.SetDefault("orchestrator.commit_timeout", "5s")
	v.SetDefault("orchestrator.history_window", 50)
	v.SetDefault("orchestrator.archive_schedule", "@every 10m")
	v.SetDefault("orchestrator.archive_after", "1h")

	// Intake
	v.SetDefault("intake.field_map", map[string]string{})

	// Profiles
	v.SetDefault("profiles.dir", filepath.Join(HomeDir(), "profiles"))
	v.SetDefault("profiles.watch", true)
	v.SetDefault("profiles.default", "default")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "scenegate:task_events")

	// Health
	v.SetDefault("health.grpc_enabled", false)
	v.SetDefault("health.grpc_port", 18791)
}
