package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	SSLMode  string        `yaml:"sslmode"`
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// BacktestConfig represents execution engine configuration
type BacktestConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	LeaseTTL      time.Duration `yaml:"lease_ttl"`
	SoftTimeout   time.Duration `yaml:"soft_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBaseWait time.Duration `yaml:"retry_base_wait"`
	BaseInterval  string        `yaml:"base_interval"`
	ReaperSpec    string        `yaml:"reaper_spec"`
}

// RateLimitConfig represents API rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPath    string `yaml:"prometheus_path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load loads configuration from a YAML file with environment overrides.
// A .env file next to the process is honored when present.
func Load(filename string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8082
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Backtest.Workers == 0 {
		c.Backtest.Workers = 4
	}
	if c.Backtest.QueueSize == 0 {
		c.Backtest.QueueSize = 256
	}
	if c.Backtest.LeaseTTL == 0 {
		c.Backtest.LeaseTTL = 30 * time.Minute
	}
	if c.Backtest.SoftTimeout == 0 {
		c.Backtest.SoftTimeout = 10 * time.Minute
	}
	if c.Backtest.MaxRetries == 0 {
		c.Backtest.MaxRetries = 3
	}
	if c.Backtest.RetryBaseWait == 0 {
		c.Backtest.RetryBaseWait = 500 * time.Millisecond
	}
	if c.Backtest.BaseInterval == "" {
		c.Backtest.BaseInterval = "1m"
	}
	if c.Backtest.ReaperSpec == "" {
		c.Backtest.ReaperSpec = "@every 1m"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Monitoring.PrometheusPath == "" {
		c.Monitoring.PrometheusPath = "/metrics"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QUANTLAB_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("QUANTLAB_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Database.Port = p
		}
	}
	if v := os.Getenv("QUANTLAB_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("QUANTLAB_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("QUANTLAB_DB_NAME"); v != "" {
		c.Database.DBName = v
	}
	if v := os.Getenv("QUANTLAB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("QUANTLAB_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("QUANTLAB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("QUANTLAB_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Backtest.Workers <= 0 {
		return fmt.Errorf("backtest workers must be positive, got %d", c.Backtest.Workers)
	}
	if c.Backtest.LeaseTTL <= 0 {
		return fmt.Errorf("lease TTL must be positive, got %s", c.Backtest.LeaseTTL)
	}
	if c.Backtest.SoftTimeout >= c.Backtest.LeaseTTL {
		return fmt.Errorf("soft timeout %s must be shorter than lease TTL %s",
			c.Backtest.SoftTimeout, c.Backtest.LeaseTTL)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled but no address configured")
	}
	if _, err := kline.ParseInterval(c.Backtest.BaseInterval); err != nil {
		return fmt.Errorf("invalid base interval: %w", err)
	}
	return nil
}
