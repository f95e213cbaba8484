package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Retry  RetryConfig  `yaml:"retry"`
	Paths  PathsConfig  `yaml:"paths"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig 令牌签发配置。Secret 建议走 AUTH_SECRET 环境变量，不落盘。
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// RetryConfig 变更重试参数：固定次数 + 固定间隔（刻意不做退避）。
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type PathsConfig struct {
	Posts string `yaml:"posts"`
}

// Default 返回本地可跑的缺省配置。
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "", Port: 8080},
		Auth:   AuthConfig{TokenTTL: 5 * time.Minute},
		Retry:  RetryConfig{MaxAttempts: 3, Delay: time.Second},
		Paths:  PathsConfig{Posts: "server/configs/posts.json"},
	}
}

// Load 从文件加载配置，再用环境变量覆盖敏感信息。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// 从环境变量覆盖敏感信息
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate 验证必需配置。
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required (set AUTH_SECRET env var or config)")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	return nil
}
