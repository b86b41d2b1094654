package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretSource 密钥来源（环境变量优先，其次 badger secretstore）
type SecretSource interface {
	Getenv(key string) string
}

type envSource struct{}

func (envSource) Getenv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

// FleetConfig 机器人集群配置
type FleetConfig struct {
	Host           string        // 游戏服务器地址
	Port           int           // 游戏服务器端口
	Version        string        // 协议版本
	Password       string        // /register 与 /login 使用的密码（密钥）
	Operator       string        // 操作员玩家名，其聊天会被当作指令
	ReconnectDelay time.Duration // 断线后固定重连延迟
	HandshakeDelay time.Duration // 登录后 /register、/login 之间的间隔
	SpawnCount     int           // spawn-all 默认数量
	ConnectRate    float64       // 每秒允许发起的连接数（0 = 不限）
	ConnectBurst   int           // 连接令牌桶容量
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr        string // API 监听地址
	MetricsAddr string // expvar/pprof 调试监听地址（空 = 关闭）
}

// BridgeConfig 协议桥 sidecar 配置
type BridgeConfig struct {
	URL              string
	HandshakeTimeout time.Duration
}

// StoreConfig 存储配置
type StoreConfig struct {
	Driver       string // memory | sqlite
	Path         string // sqlite 文件路径
	LogRetention int    // 日志保留条数
}

// InterpreterConfig 聊天指令解释器配置
type InterpreterConfig struct {
	Enabled      bool
	BaseURL      string // OpenAI 兼容接口地址
	Model        string
	APIKey       string // 为空时只使用关键字规则
	DedupeWindow time.Duration
}

// LogConfig 日志配置
type LogConfig struct {
	Level string
	File  string
	JSON  bool
}

// SecretsConfig badger 密钥库配置
type SecretsConfig struct {
	Path string // 为空表示不使用密钥库
	Key  string // 32 字节 hex/base64
}

// Config 应用配置
type Config struct {
	Fleet       FleetConfig
	Server      ServerConfig
	Bridge      BridgeConfig
	Store       StoreConfig
	Interpreter InterpreterConfig
	Log         LogConfig
	Secrets     SecretsConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Fleet struct {
		Host                  string  `yaml:"host" json:"host"`
		Port                  int     `yaml:"port" json:"port"`
		Version               string  `yaml:"version" json:"version"`
		Operator              string  `yaml:"operator" json:"operator"`
		ReconnectDelaySeconds int     `yaml:"reconnect_delay_seconds" json:"reconnect_delay_seconds"`
		HandshakeDelayMs      int     `yaml:"handshake_delay_ms" json:"handshake_delay_ms"`
		SpawnCount            int     `yaml:"spawn_count" json:"spawn_count"`
		ConnectRate           float64 `yaml:"connect_rate" json:"connect_rate"`
		ConnectBurst          int     `yaml:"connect_burst" json:"connect_burst"`
	} `yaml:"fleet" json:"fleet"`
	Server struct {
		Addr        string `yaml:"addr" json:"addr"`
		MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	} `yaml:"server" json:"server"`
	Bridge struct {
		URL                     string `yaml:"url" json:"url"`
		HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_seconds" json:"handshake_timeout_seconds"`
	} `yaml:"bridge" json:"bridge"`
	Store struct {
		Driver       string `yaml:"driver" json:"driver"`
		Path         string `yaml:"path" json:"path"`
		LogRetention int    `yaml:"log_retention" json:"log_retention"`
	} `yaml:"store" json:"store"`
	Interpreter struct {
		Enabled             *bool  `yaml:"enabled" json:"enabled"`
		BaseURL             string `yaml:"base_url" json:"base_url"`
		Model               string `yaml:"model" json:"model"`
		DedupeWindowSeconds int    `yaml:"dedupe_window_seconds" json:"dedupe_window_seconds"`
	} `yaml:"interpreter" json:"interpreter"`
	Log struct {
		Level string `yaml:"level" json:"level"`
		File  string `yaml:"file" json:"file"`
		JSON  *bool  `yaml:"json" json:"json"`
	} `yaml:"log" json:"log"`
	Secrets struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"secrets" json:"secrets"`
}

// 默认值
const (
	DefaultHost           = "localhost"
	DefaultPort           = 25569
	DefaultVersion        = "1.20.1"
	DefaultOperator       = "rabbit0009"
	DefaultReconnectDelay = 30 * time.Second
	DefaultHandshakeDelay = time.Second
	DefaultSpawnCount     = 10
	DefaultLogRetention   = 1000
)

// LoadFromFile 从配置文件 + 环境变量加载配置。
// 普通字段优先级：配置文件 > 环境变量 > 默认值；密钥：环境变量 > 密钥库，不从配置文件读取。
// secrets 为 nil 时只读环境变量。
func LoadFromFile(filePath string, secrets SecretSource) (*Config, error) {
	if secrets == nil {
		secrets = envSource{}
	}

	cf := &ConfigFile{}
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	cfg := &Config{
		Fleet: FleetConfig{
			Host:           getValueFromSources(cf.Fleet.Host, getEnv("MC_HOST", DefaultHost)),
			Port:           getIntFromSources(cf.Fleet.Port, parseIntEnv("MC_PORT", DefaultPort)),
			Version:        getValueFromSources(cf.Fleet.Version, getEnv("MC_VERSION", DefaultVersion)),
			Password:       secrets.Getenv("BOT_PASSWORD"),
			Operator:       getValueFromSources(cf.Fleet.Operator, getEnv("FLEET_OPERATOR", DefaultOperator)),
			ReconnectDelay: time.Duration(getIntFromSources(cf.Fleet.ReconnectDelaySeconds, parseIntEnv("RECONNECT_DELAY_SECONDS", int(DefaultReconnectDelay/time.Second)))) * time.Second,
			HandshakeDelay: time.Duration(getIntFromSources(cf.Fleet.HandshakeDelayMs, parseIntEnv("HANDSHAKE_DELAY_MS", int(DefaultHandshakeDelay/time.Millisecond)))) * time.Millisecond,
			SpawnCount:     getIntFromSources(cf.Fleet.SpawnCount, parseIntEnv("SPAWN_COUNT", DefaultSpawnCount)),
			ConnectRate:    getFloatFromSources(cf.Fleet.ConnectRate, parseFloatEnv("CONNECT_RATE", 0)),
			ConnectBurst:   getIntFromSources(cf.Fleet.ConnectBurst, parseIntEnv("CONNECT_BURST", 1)),
		},
		Server: ServerConfig{
			Addr:        getValueFromSources(cf.Server.Addr, getEnv("SERVER_ADDR", ":5000")),
			MetricsAddr: getValueFromSources(cf.Server.MetricsAddr, getEnv("METRICS_ADDR", "")),
		},
		Bridge: BridgeConfig{
			URL:              getValueFromSources(cf.Bridge.URL, getEnv("BRIDGE_URL", "ws://127.0.0.1:3001/bot")),
			HandshakeTimeout: time.Duration(getIntFromSources(cf.Bridge.HandshakeTimeoutSeconds, parseIntEnv("BRIDGE_HANDSHAKE_TIMEOUT_SECONDS", 30))) * time.Second,
		},
		Store: StoreConfig{
			Driver:       strings.ToLower(getValueFromSources(cf.Store.Driver, getEnv("STORE_DRIVER", "memory"))),
			Path:         getValueFromSources(cf.Store.Path, getEnv("STORE_PATH", "data/fleet.db")),
			LogRetention: getIntFromSources(cf.Store.LogRetention, parseIntEnv("LOG_RETENTION", DefaultLogRetention)),
		},
		Interpreter: InterpreterConfig{
			Enabled:      getBoolFromSources(cf.Interpreter.Enabled, parseBoolEnv("INTERPRETER_ENABLED", true)),
			BaseURL:      getValueFromSources(cf.Interpreter.BaseURL, getEnv("INTERPRETER_BASE_URL", "https://api.openai.com/v1")),
			Model:        getValueFromSources(cf.Interpreter.Model, getEnv("INTERPRETER_MODEL", "gpt-4o")),
			APIKey:       secrets.Getenv("INTERPRETER_API_KEY"),
			DedupeWindow: time.Duration(getIntFromSources(cf.Interpreter.DedupeWindowSeconds, parseIntEnv("INTERPRETER_DEDUPE_SECONDS", 5))) * time.Second,
		},
		Log: LogConfig{
			Level: getValueFromSources(cf.Log.Level, getEnv("LOG_LEVEL", "info")),
			File:  getValueFromSources(cf.Log.File, getEnv("LOG_FILE", "logs/fleet.log")),
			JSON:  getBoolFromSources(cf.Log.JSON, parseBoolEnv("LOG_JSON", false)),
		},
		Secrets: SecretsConfig{
			Path: getValueFromSources(cf.Secrets.Path, getEnv("SECRETSTORE_PATH", "")),
			Key:  getEnv("SECRETSTORE_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// Load 只从环境变量加载
func Load() (*Config, error) {
	return LoadFromFile("", nil)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Fleet.Host) == "" {
		return fmt.Errorf("MC_HOST 不能为空")
	}
	if c.Fleet.Port <= 0 || c.Fleet.Port > 65535 {
		return fmt.Errorf("MC_PORT 必须在 1 到 65535 之间，当前 %d", c.Fleet.Port)
	}
	if c.Fleet.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY_SECONDS 必须大于 0")
	}
	if c.Fleet.HandshakeDelay <= 0 {
		return fmt.Errorf("HANDSHAKE_DELAY_MS 必须大于 0")
	}
	if c.Fleet.SpawnCount <= 0 {
		return fmt.Errorf("SPAWN_COUNT 必须大于 0")
	}
	if c.Fleet.ConnectRate < 0 {
		return fmt.Errorf("CONNECT_RATE 不能为负数")
	}
	if c.Fleet.ConnectRate > 0 && c.Fleet.ConnectBurst <= 0 {
		return fmt.Errorf("CONNECT_BURST 必须大于 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH 不能为空（sqlite）")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s (支持 memory, sqlite)", c.Store.Driver)
	}
	if c.Store.LogRetention <= 0 {
		return fmt.Errorf("LOG_RETENTION 必须大于 0")
	}
	if c.Bridge.URL == "" {
		return fmt.Errorf("BRIDGE_URL 不能为空")
	}
	return nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func getValueFromSources(configValue, fallback string) string {
	if configValue != "" {
		return configValue
	}
	return fallback
}

func getIntFromSources(configValue, fallback int) int {
	if configValue != 0 {
		return configValue
	}
	return fallback
}

func getFloatFromSources(configValue, fallback float64) float64 {
	if configValue != 0 {
		return configValue
	}
	return fallback
}

func getBoolFromSources(configValue *bool, fallback bool) bool {
	if configValue != nil {
		return *configValue
	}
	return fallback
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
