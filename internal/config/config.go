package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort      = 2333
	defaultRedisURL  = "redis://localhost:6379/0"
	defaultDBHost    = "localhost"
	defaultDBPort    = 3306
	defaultDBCharset = "utf8mb4"
)

// Load reads and normalizes the YAML config file.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	if cfg.DSN == "" {
		return nil, fmt.Errorf("config: dsn or database section is required")
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.RedisURL == "" {
		c.RedisURL = defaultRedisURL
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.DSN == "" && c.Database.Name != "" {
		c.DSN = c.Database.dsn()
	}
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}

func (d DatabaseConfig) dsn() string {
	host := d.Host
	if host == "" {
		host = defaultDBHost
	}
	port := d.Port
	if port == 0 {
		port = defaultDBPort
	}
	charset := d.Charset
	if charset == "" {
		charset = defaultDBCharset
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		d.User, d.Password, host, port, d.Name, charset)
}
