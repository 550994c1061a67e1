package config

import (
	"log"
	"time"

	"gopkg.in/yaml.v3"

	"todoflow/pkg/config"
)

// Config is the full configuration of a todoflow service, loaded from the
// layered yaml config plus environment overrides.
type Config struct {
	DB      config.DBConfig      `yaml:"db"`
	MQ      config.MQConfig      `yaml:"mq"`
	Redis   config.RedisConfig   `yaml:"redis"`
	Backend config.BackendConfig `yaml:"backend"`
	Server  config.ServerConfig  `yaml:"server"`

	Scheduler struct {
		ScanIntervalSecs int `yaml:"scan_interval_seconds"`
		LookaheadMins    int `yaml:"lookahead_minutes"`
	} `yaml:"scheduler"`

	Ledger struct {
		RetentionDays       int `yaml:"retention_days"`
		CleanupIntervalMins int `yaml:"cleanup_interval_minutes"`
	} `yaml:"ledger"`

	Publisher struct {
		RetryMax                  int `yaml:"retry_max"`
		FallbackRetryIntervalSecs int `yaml:"fallback_retry_interval_seconds"`
	} `yaml:"publisher"`

	Notifier struct {
		FlushIntervalMins int `yaml:"flush_interval_minutes"`
	} `yaml:"notifier"`
}

func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var cfg Config
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		log.Fatalf("failed to marshal config: %v", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	// Environment variables take precedence over file values.
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideBackendFromEnv(&cfg.Backend)
	config.OverrideServerFromEnv(&cfg.Server)

	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Scheduler.ScanIntervalSecs <= 0 {
		c.Scheduler.ScanIntervalSecs = 60
	}
	if c.Scheduler.LookaheadMins <= 0 {
		c.Scheduler.LookaheadMins = 60
	}
	if c.Ledger.RetentionDays <= 0 {
		c.Ledger.RetentionDays = 7
	}
	if c.Ledger.CleanupIntervalMins <= 0 {
		c.Ledger.CleanupIntervalMins = 60
	}
	if c.Publisher.RetryMax <= 0 {
		c.Publisher.RetryMax = 3
	}
	if c.Publisher.FallbackRetryIntervalSecs <= 0 {
		c.Publisher.FallbackRetryIntervalSecs = 30
	}
	if c.Notifier.FlushIntervalMins <= 0 {
		c.Notifier.FlushIntervalMins = 5
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scheduler.ScanIntervalSecs) * time.Second
}

func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.Scheduler.LookaheadMins) * time.Minute
}

func (c *Config) LedgerRetention() time.Duration {
	return time.Duration(c.Ledger.RetentionDays) * 24 * time.Hour
}

func (c *Config) LedgerCleanupInterval() time.Duration {
	return time.Duration(c.Ledger.CleanupIntervalMins) * time.Minute
}

func (c *Config) FallbackRetryInterval() time.Duration {
	return time.Duration(c.Publisher.FallbackRetryIntervalSecs) * time.Second
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Notifier.FlushIntervalMins) * time.Minute
}
