package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "APTOS_AGENT_CONFIG"
	// DefaultConfigPath 是未指定路径时查找的配置文件。
	DefaultConfigPath = "configs/aptos-agent.json"
)

// Config 描述了 aptos-agent 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Aptos   AptosConfig   `json:"aptos"`
	Search  SearchConfig  `json:"search"`
	LLM     LLMConfig     `json:"llm"`
	Agent   AgentConfig   `json:"agent"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅关闭的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 描述工具调用审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// AptosConfig 描述区块链浏览器 REST 接口。
type AptosConfig struct {
	NetworkConfig  string `json:"network_config"`
	DefaultNetwork string `json:"default_network"`
	BaseURL        string `json:"base_url"`
	CoinType       string `json:"coin_type"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回单次请求的超时时间。
func (a AptosConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// SearchConfig 描述网页搜索工具。
type SearchConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Engine         string `json:"engine"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ResolveAPIKey 优先使用配置中的密钥，其次读取环境变量。
func (s SearchConfig) ResolveAPIKey() string {
	return resolveSecret(s.APIKey, s.APIKeyEnv)
}

// Timeout 返回单次搜索的超时时间。
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述兼容 OpenAI 协议的推理服务。
type OpenAIConfig struct {
	APIKey         string   `json:"api_key"`
	APIKeyEnv      string   `json:"api_key_env"`
	BaseURL        string   `json:"base_url"`
	Model          string   `json:"model"`
	Temperature    *float64 `json:"temperature"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// ResolveAPIKey 优先使用配置中的密钥，其次读取环境变量。
func (o OpenAIConfig) ResolveAPIKey() string {
	return resolveSecret(o.APIKey, o.APIKeyEnv)
}

// Timeout 返回单次推理的超时时间。
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// AgentConfig 控制执行器的循环与记忆。
type AgentConfig struct {
	MaxIterations       int    `json:"max_iterations"`
	MaxExecutionSeconds int    `json:"max_execution_seconds"`
	LLMTimeoutSeconds   int    `json:"llm_timeout_seconds"`
	MemoryDepth         int    `json:"memory_depth"`
	MaxSessions         int    `json:"max_sessions"`
	SystemPrompt        string `json:"system_prompt"`
	Verbose             bool   `json:"verbose"`
}

// MaxExecutionTime 返回单次调用的总耗时上限。
func (a AgentConfig) MaxExecutionTime() time.Duration {
	return time.Duration(a.MaxExecutionSeconds) * time.Second
}

// LLMTimeout 返回每次调用大模型的超时时间。
func (a AgentConfig) LLMTimeout() time.Duration {
	return time.Duration(a.LLMTimeoutSeconds) * time.Second
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

// Default 返回全部使用默认值的配置，相对路径以当前目录为基准。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// Resolve 按命令行参数、环境变量、默认路径的顺序确定配置来源。显式指定的
// 文件必须存在；默认路径不存在时返回 Default()。
func Resolve(path string) (*Config, string, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		cfg, err := Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat(DefaultConfigPath); errors.Is(err, fs.ErrNotExist) {
		return Default(), "", nil
	}
	cfg, err := Load(DefaultConfigPath)
	return cfg, DefaultConfigPath, err
}

// LoadEnv 将 .env 文件中的变量写入进程环境，已存在的变量不会被覆盖。未指定
// 文件时尝试加载当前目录的 .env，文件不存在不视为错误。
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("加载 .env 失败: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("加载环境变量文件失败: %w", err)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	} else if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Aptos.NetworkConfig != "" && !filepath.IsAbs(c.Aptos.NetworkConfig) {
		c.Aptos.NetworkConfig = filepath.Join(baseDir, c.Aptos.NetworkConfig)
	}
	if c.Aptos.DefaultNetwork == "" {
		c.Aptos.DefaultNetwork = "testnet"
	}
	if c.Aptos.TimeoutSeconds <= 0 {
		c.Aptos.TimeoutSeconds = 10
	}

	if c.Search.APIKeyEnv == "" {
		c.Search.APIKeyEnv = "SERPAPI_API_KEY"
	}
	if c.Search.TimeoutSeconds <= 0 {
		c.Search.TimeoutSeconds = 10
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}

	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Python.WorkingDir) {
		c.LLM.Python.WorkingDir = filepath.Join(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 15
	}
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 5
	}
	if c.Agent.MaxSessions <= 0 {
		c.Agent.MaxSessions = 10000
	}
}

func resolveSecret(value, env string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
