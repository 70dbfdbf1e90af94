package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 ConnectorHub 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	Workflow  WorkflowConfig  `json:"workflow"`
	Templates TemplatesConfig `json:"templates"`
	Auth      AuthConfig      `json:"auth"`
	Alerting  AlertingConfig  `json:"alerting"`
	Metrics   MetricsConfig   `json:"metrics"`
	Plugins   PluginsConfig   `json:"plugins"`
	Logging   LoggingConfig   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述操作存储与端点仓储的连接信息。
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述操作排队使用的消息后端。
type QueueConfig struct {
	Driver   string `json:"driver"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// WorkflowConfig 控制异步执行后端的行为。
type WorkflowConfig struct {
	MaxRetries     int `json:"max_retries"`
	WorkerCount    int `json:"worker_count"`
	ExecuteTimeout int `json:"execute_timeout_seconds"`
	ProbeTimeout   int `json:"probe_timeout_seconds"`
}

// TemplatesConfig 指向连接器模板定义文件。
type TemplatesConfig struct {
	Path string `json:"path"`
}

// AuthConfig 描述 API 的身份认证方式。
type AuthConfig struct {
	Mode   string            `json:"mode"`
	Tokens []AuthTokenConfig `json:"tokens"`
	OAuth  OAuthConfig       `json:"oauth"`
}

// AuthTokenConfig 定义静态令牌及其授权范围。
type AuthTokenConfig struct {
	Token    string   `json:"token"`
	Name     string   `json:"name"`
	Scopes   []string `json:"scopes"`
	Disabled bool     `json:"disabled"`
}

// OAuthConfig 描述通过令牌内省委托认证时所需的信息。
type OAuthConfig struct {
	IntrospectionURL string `json:"introspection_url"`
	ClientID         string `json:"client_id"`
	ClientSecret     string `json:"client_secret"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	UsernameClaim    string `json:"username_claim"`
}

// AlertingConfig 描述告警通道的开关与投递地址。
type AlertingConfig struct {
	Enabled  bool   `json:"enabled"`
	Webhook  string `json:"webhook"`
	Channel  string `json:"channel"`
	Receiver string `json:"receiver"`
}

// MetricsConfig 控制独立指标端口。为空时指标只挂在 API 服务上。
type MetricsConfig struct {
	Address string `json:"address"`
}

// PluginsConfig 指向插件管理器的 YAML 清单。开启后守护进程在启动阶段
// 加载清单中的插件，连接器类插件可以向注册表贡献新的连接器实现。
type PluginsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingConfig 控制诊断日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}

	if c.Workflow.MaxRetries <= 0 {
		c.Workflow.MaxRetries = 3
	}
	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = 4
	}
	if c.Workflow.ExecuteTimeout <= 0 {
		c.Workflow.ExecuteTimeout = 300
	}
	if c.Workflow.ProbeTimeout <= 0 {
		c.Workflow.ProbeTimeout = 15
	}

	if c.Templates.Path != "" && !filepath.IsAbs(c.Templates.Path) {
		c.Templates.Path = filepath.Join(baseDir, c.Templates.Path)
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Plugins.Path != "" && !filepath.IsAbs(c.Plugins.Path) {
		c.Plugins.Path = filepath.Join(baseDir, c.Plugins.Path)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
