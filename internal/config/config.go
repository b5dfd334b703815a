package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port            string        `yaml:"server_port"`
	Env             string        `yaml:"environment"`
	LogLevel        string        `yaml:"log_level"`
	DBSource        string        `yaml:"db_source"`
	SnapshotDir     string        `yaml:"snapshot_dir"`
	LockBackend     string        `yaml:"lock_backend"`
	RedisAddr       string        `yaml:"redis_addr"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	AMQPURL         string        `yaml:"amqp_url"`
	AMQPExchange    string        `yaml:"amqp_exchange"`
	FutureStockDays int           `yaml:"future_stock_days"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:            "8080",
		Env:             "development",
		LogLevel:        "info",
		LockBackend:     "local",
		RedisAddr:       "localhost:6379",
		LockTTL:         5 * time.Second,
		AMQPExchange:    "ledger.audit",
		FutureStockDays: 7,
	}
}

// Load reads an optional .env file, then the YAML file named by
// LEDGER_CONFIG, then the environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("SERVER_PORT", &c.Port)
	str("ENVIRONMENT", &c.Env)
	str("LOG_LEVEL", &c.LogLevel)
	str("DB_SOURCE", &c.DBSource)
	str("SNAPSHOT_DIR", &c.SnapshotDir)
	str("LOCK_BACKEND", &c.LockBackend)
	str("REDIS_ADDR", &c.RedisAddr)
	str("AMQP_URL", &c.AMQPURL)
	str("AMQP_EXCHANGE", &c.AMQPExchange)

	if v := os.Getenv("LOCK_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LOCK_TTL: %w", err)
		}
		c.LockTTL = d
	}
	if v := os.Getenv("FUTURE_STOCK_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FUTURE_STOCK_DAYS: %w", err)
		}
		c.FutureStockDays = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.LockBackend {
	case "local", "redis":
	default:
		return fmt.Errorf("LOCK_BACKEND must be local or redis, got %q", c.LockBackend)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.FutureStockDays <= 0 {
		return fmt.Errorf("FUTURE_STOCK_DAYS must be positive")
	}
	return nil
}
