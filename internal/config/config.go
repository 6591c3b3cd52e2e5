package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"notifyqueue/internal/delivery"
	"notifyqueue/internal/directory"
	"notifyqueue/internal/scheduler"
	"notifyqueue/pkg/config"
	"notifyqueue/pkg/logger"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	DirectoryDriverStore  = "store"
	DirectoryDriverStatic = "static"
)

type Config struct {
	Server config.ServerConfig `yaml:"server"`
	DB     config.DBConfig     `yaml:"db"`
	Store  struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"store"`
	MQ    config.MQConfig    `yaml:"mq"`
	Redis config.RedisConfig `yaml:"redis"`
	JWT   config.JWTConfig   `yaml:"jwt"`
	Log   logger.Options     `yaml:"log"`

	Scheduler     scheduler.Config `yaml:"scheduler"`
	Consolidation struct {
		Workers int `yaml:"workers"`
	} `yaml:"consolidation"`
	Compose struct {
		Organization string `yaml:"organization"`
		Timezone     string `yaml:"timezone"`
	} `yaml:"compose"`
	Delivery  delivery.Config `yaml:"delivery"`
	Directory struct {
		Driver   string                           `yaml:"driver"`
		CacheTTL time.Duration                    `yaml:"cache_ttl"`
		Static   map[string]directory.StaticEntry `yaml:"static"`
	} `yaml:"directory"`
	Intake struct {
		Enabled    bool `yaml:"enabled"`
		MaxRetries int  `yaml:"max_retries"`
	} `yaml:"intake"`
	Outbox struct {
		Enabled   bool          `yaml:"enabled"`
		Interval  time.Duration `yaml:"interval"`
		BatchSize int           `yaml:"batch_size"`
	} `yaml:"outbox"`
}

// Load 使用统一配置中心加载配置，环境变量优先级最高
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, configDir)
}

func LoadFrom(env, configDir string) (*Config, error) {
	var cfg Config
	if err := config.Decode(env, configDir, &cfg); err != nil {
		return nil, err
	}

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	overrideServiceFromEnv(&cfg)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideServiceFromEnv(cfg *Config) {
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.Store.SQLitePath = path
	}
	if driver := os.Getenv("DELIVERY_DRIVER"); driver != "" {
		cfg.Delivery.Driver = driver
	}
	if token := os.Getenv("WHATSAPP_TOKEN"); token != "" {
		cfg.Delivery.WhatsApp.Token = token
	}
	if hour := os.Getenv("SCHEDULER_HOUR"); hour != "" {
		if h, err := strconv.Atoi(hour); err == nil {
			cfg.Scheduler.Hour = h
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8090"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "notifyqueue.db"
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = c.Compose.Timezone
	}
	if c.Consolidation.Workers <= 0 {
		c.Consolidation.Workers = 4
	}
	if c.Directory.Driver == "" {
		c.Directory.Driver = DirectoryDriverStore
	}
	if c.Directory.CacheTTL <= 0 {
		c.Directory.CacheTTL = 10 * time.Minute
	}
	if c.Intake.MaxRetries <= 0 {
		c.Intake.MaxRetries = 5
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = 5 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Directory.Driver {
	case DirectoryDriverStore, DirectoryDriverStatic:
	default:
		return fmt.Errorf("unknown directory driver %q", c.Directory.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Intake.Enabled && !c.MQ.Enabled {
		return fmt.Errorf("intake requires mq.enabled")
	}
	if c.Outbox.Enabled && (!c.MQ.Enabled || c.Store.Driver != StoreDriverPostgres) {
		return fmt.Errorf("outbox requires mq.enabled and the postgres store")
	}
	if c.Delivery.Driver == delivery.DriverMQ && !c.MQ.Enabled {
		return fmt.Errorf("delivery driver mq requires mq.enabled")
	}
	return nil
}
