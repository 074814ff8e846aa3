// Package config loads the YAML configuration shared by the chat client and
// server, with environment variable overrides.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultServerURL            = "ws://localhost:1780/ws"
	defaultMaxReconnectAttempts = 5
	defaultSendBuffer           = 256
	defaultReceiveBuffer        = 256
	defaultHost                 = "0.0.0.0"
	defaultPort                 = 1780
	defaultMaxMessageSize       = 4096
	defaultMaxConnections       = 1000
	defaultMessagesPerSecond    = 10
	defaultRedisAddr            = "localhost:6379"
	defaultRedisChannel         = "chat:frames"
	defaultRedisPresenceKey     = "chat:presence"
	defaultLogLevel             = "info"
)

// Config 配置
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	Log    LogConfig    `yaml:"log"`
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ServerURL            string `yaml:"server_url"`
	Username             string `yaml:"username"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	SendBuffer           int    `yaml:"send_buffer"`
	// 入站帧缓冲 between the connection and the UI loop
	ReceiveBuffer int `yaml:"receive_buffer"`
}

// ServerConfig WebSocket 服务器配置
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	MaxConnections int    `yaml:"max_connections"`

	// 允许的 Origin 列表, "*" 或空表示全部允许
	AllowedOrigins    []string `yaml:"allowed_origins"`
	MessagesPerSecond int      `yaml:"messages_per_second"`
}

// RedisConfig Redis 配置. When disabled the server fans out in memory.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Channel     string `yaml:"channel"`
	PresenceKey string `yaml:"presence_key"`
	// InstanceID names this server in the shared roster; random if empty.
	InstanceID string `yaml:"instance_id"`
	// PresenceTTL 秒, how long a silent instance keeps its names.
	PresenceTTL int `yaml:"presence_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load 加载配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default 返回默认配置, with environment overrides applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = defaultServerURL
	}
	if c.Client.MaxReconnectAttempts == 0 {
		c.Client.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.Client.SendBuffer <= 0 {
		c.Client.SendBuffer = defaultSendBuffer
	}
	if c.Client.ReceiveBuffer <= 0 {
		c.Client.ReceiveBuffer = defaultReceiveBuffer
	}
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.MaxMessageSize <= 0 {
		c.Server.MaxMessageSize = defaultMaxMessageSize
	}
	if c.Server.MaxConnections <= 0 {
		c.Server.MaxConnections = defaultMaxConnections
	}
	if c.Server.MessagesPerSecond <= 0 {
		c.Server.MessagesPerSecond = defaultMessagesPerSecond
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = defaultRedisChannel
	}
	if c.Redis.PresenceKey == "" {
		c.Redis.PresenceKey = defaultRedisPresenceKey
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

// applyEnv 环境变量覆盖配置文件
func (c *Config) applyEnv() {
	setString(&c.Client.ServerURL, "CHAT_SERVER_URL")
	setString(&c.Client.Username, "CHAT_USERNAME")
	setInt(&c.Client.MaxReconnectAttempts, "CHAT_MAX_RECONNECT_ATTEMPTS")
	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")
	setInt(&c.Server.MaxConnections, "SERVER_MAX_CONNECTIONS")
	setBool(&c.Redis.Enabled, "REDIS_ENABLED")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.Redis.Channel, "REDIS_CHANNEL")
	setString(&c.Redis.InstanceID, "REDIS_INSTANCE_ID")
	setString(&c.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// Addr 返回监听地址
func (s *ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}
