package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath 是指定配置文件路径的环境变量。
const EnvConfigPath = "FLOWAGENT_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/flowagent.json"

// Config 描述了 FlowAgent 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Dispatch DispatchConfig `json:"dispatch"`
	Web3     Web3Config     `json:"web3"`
	Pricing  PricingConfig  `json:"pricing"`
	LLM      LLMConfig      `json:"llm"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与限流。
type ServerConfig struct {
	Address string `json:"address"`
	// RateLimit 是每个客户端 IP 每秒允许的请求数，0 表示不限流。
	RateLimit float64 `json:"rate_limit"`
	Burst     int     `json:"burst"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// StorageConfig 统一描述任务与活动记录的存储后端。
type StorageConfig struct {
	TaskStore  BackendConfig `json:"task_store"`
	Activities BackendConfig `json:"activities"`
}

// BackendConfig 选择 memory 或 mysql 实现。
type BackendConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 选择异步派发使用的队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// DispatchConfig 控制确认后的派发方式与重试策略。
type DispatchConfig struct {
	// Mode 为 sync 时在确认请求内完成派发，为 async 时入队。
	Mode         string `json:"mode"`
	MaxAttempts  int    `json:"max_attempts"`
	RetryDelayMS int    `json:"retry_delay_ms"`
	BalanceCheck *bool  `json:"balance_check"`
	AutoReads    *bool  `json:"auto_execute_reads"`
}

// RetryDelay 返回重试间隔。
func (d DispatchConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMS) * time.Millisecond
}

// Async 判断是否为异步派发。
func (d DispatchConfig) Async() bool {
	return strings.EqualFold(d.Mode, "async")
}

// Web3Config 描述网络定义与签名账户。
type Web3Config struct {
	NetworksFile   string `json:"networks_file"`
	DefaultChainID int64  `json:"default_chain_id"`
	NamingChainID  int64  `json:"naming_chain_id"`
	// PrivateKeyEnv 是保存签名私钥的环境变量名，私钥本身不写入配置文件。
	PrivateKeyEnv     string `json:"private_key_env"`
	CloseGraceSeconds int    `json:"close_grace_seconds"`
}

// PricingConfig 控制注册价格的合理性检查，金额以 ETH 表示。
type PricingConfig struct {
	Ceiling            string `json:"ceiling"`
	Fallback           string `json:"fallback"`
	RejectAboveCeiling bool   `json:"reject_above_ceiling"`
}

// LLMConfig 用于配置无意图命中时的大模型回复。
type LLMConfig struct {
	Provider       string `json:"provider"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MetricsConfig 控制独立的指标端口。
type MetricsConfig struct {
	Address string `json:"address"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// ResolvePath 返回环境变量指定的配置路径，未设置时返回默认路径。
func ResolvePath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimit > 0 && c.Server.Burst <= 0 {
		c.Server.Burst = int(c.Server.RateLimit) * 2
		if c.Server.Burst < 1 {
			c.Server.Burst = 1
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.Activities.Driver == "" {
		c.Storage.Activities.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 128
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}

	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = "sync"
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.RetryDelayMS <= 0 {
		c.Dispatch.RetryDelayMS = 2000
	}
	if c.Dispatch.BalanceCheck == nil {
		enabled := true
		c.Dispatch.BalanceCheck = &enabled
	}
	if c.Dispatch.AutoReads == nil {
		enabled := true
		c.Dispatch.AutoReads = &enabled
	}

	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "FLOWAGENT_PRIVATE_KEY"
	}
	if c.Web3.CloseGraceSeconds <= 0 {
		c.Web3.CloseGraceSeconds = 60
	}
	if c.Web3.NetworksFile != "" && !filepath.IsAbs(c.Web3.NetworksFile) {
		c.Web3.NetworksFile = filepath.Join(baseDir, c.Web3.NetworksFile)
	}

	if c.Pricing.Ceiling == "" {
		c.Pricing.Ceiling = "1"
	}
	if c.Pricing.Fallback == "" {
		c.Pricing.Fallback = "0.01"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 20
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Dispatch.Mode) {
	case "sync", "async":
	default:
		return fmt.Errorf("dispatch.mode 只支持 sync 或 async: %q", c.Dispatch.Mode)
	}
	switch strings.ToLower(c.Queue.Driver) {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("不支持的队列驱动: %q", c.Queue.Driver)
	}
	for name, backend := range map[string]BackendConfig{"task_store": c.Storage.TaskStore, "activities": c.Storage.Activities} {
		switch strings.ToLower(backend.Driver) {
		case "memory":
		case "mysql":
			if strings.TrimSpace(backend.DSN) == "" {
				return fmt.Errorf("storage.%s 使用 mysql 时必须提供 dsn", name)
			}
		default:
			return fmt.Errorf("storage.%s 不支持的驱动: %q", name, backend.Driver)
		}
	}
	return nil
}
