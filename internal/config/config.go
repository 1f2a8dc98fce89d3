package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 OpenHive 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Storage       StorageConfig       `json:"storage"`
	TaskQueue     TaskQueueConfig     `json:"task_queue"`
	LLM           LLMConfig           `json:"llm"`
	Roster        RosterConfig        `json:"roster"`
	Orchestration OrchestrationConfig `json:"orchestration"`
	Logging       LoggingConfig       `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述任务存储后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
}

// TaskStoreConfig 支持内存与 MySQL 两种驱动。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// TaskQueueConfig 描述自动迭代模式使用的消息队列。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置蜂后规划器的大模型调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回大模型调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RosterConfig 指定智能体名册文件的位置。
type RosterConfig struct {
	Path       string `json:"path"`
	MaxWorkers int    `json:"max_workers"`
}

// OrchestrationConfig 承载编排引擎的策略默认值。
type OrchestrationConfig struct {
	QualityThreshold      float64 `json:"quality_threshold"`
	MaxIterations         int     `json:"max_iterations"`
	WorkerTimeoutSeconds  int     `json:"worker_timeout_seconds"`
	PlannerTimeoutSeconds int     `json:"planner_timeout_seconds"`
	CancelSetsCompletedAt bool    `json:"cancel_sets_completed_at"`
}

// WorkerTimeout 返回单个工作智能体的执行超时。
func (c OrchestrationConfig) WorkerTimeout() time.Duration {
	if c.WorkerTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

// PlannerTimeout 返回蜂后规划与汇总的超时。
func (c OrchestrationConfig) PlannerTimeout() time.Duration {
	if c.PlannerTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.PlannerTimeoutSeconds) * time.Second
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string          `json:"level"`
	Format      string          `json:"format"`
	OutputPaths []string        `json:"output_paths"`
	Audit       AuditFileConfig `json:"audit"`
}

// AuditFileConfig 控制审计日志文件的滚动策略。
type AuditFileConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
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
	return &cfg, nil
}

// Default 返回一份可直接运行的默认配置，主要用于测试与本地启动。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 4
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}

	if c.Roster.Path != "" && !filepath.IsAbs(c.Roster.Path) {
		c.Roster.Path = filepath.Join(baseDir, c.Roster.Path)
	}
	if c.Roster.MaxWorkers <= 0 {
		c.Roster.MaxWorkers = 3
	}

	if c.Orchestration.QualityThreshold <= 0 || c.Orchestration.QualityThreshold > 1 {
		c.Orchestration.QualityThreshold = 0.8
	}
	if c.Orchestration.MaxIterations <= 0 {
		c.Orchestration.MaxIterations = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
