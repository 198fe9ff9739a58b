// Package config loads and validates the engine configuration from YAML
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/natsclient"
)

// Config is the complete engine configuration.
type Config struct {
	Engine    EngineConfig      `yaml:"engine"`
	NATS      natsclient.Config `yaml:"nats"`
	Executor  ExecutorConfig    `yaml:"executor"`
	Gateway   GatewayConfig     `yaml:"gateway"`
	Cache     CacheConfig       `yaml:"cache"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// EngineConfig holds subjects and bucket names for the evaluation paths.
type EngineConfig struct {
	EventSubject   string `yaml:"event_subject"`   // inbound event subscription
	QueueGroup     string `yaml:"queue_group"`     // shared by engine replicas
	PublishSubject string `yaml:"publish_subject"` // default for publish_event actions
	RuleBucket     string `yaml:"rule_bucket"`     // KV bucket holding rules
	TriggerBucket  string `yaml:"trigger_bucket"`  // KV bucket holding triggers
}

// ExecutorConfig holds the playbook orchestrator endpoint.
type ExecutorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// GatewayConfig holds the HTTP surface settings.
type GatewayConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig controls the rule cache in front of the KV store.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// RateLimitConfig bounds inbound event throughput.
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	Burst           int     `yaml:"burst"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			EventSubject:   "events.>",
			QueueGroup:     "autoflow-engine",
			PublishSubject: "events.automation.republished",
			RuleBucket:     "autoflow-rules",
			TriggerBucket:  "autoflow-triggers",
		},
		NATS: natsclient.DefaultConfig(),
		Executor: ExecutorConfig{
			BaseURL: "http://localhost:8090",
			Timeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			EventsPerSecond: 500,
			Burst:           100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays AUTOFLOW_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("AUTOFLOW_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("AUTOFLOW_EXECUTOR_URL"); v != "" {
		c.Executor.BaseURL = v
	}
	if v := os.Getenv("AUTOFLOW_LISTEN_ADDR"); v != "" {
		c.Gateway.ListenAddr = v
	}
	if v := os.Getenv("AUTOFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AUTOFLOW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AUTOFLOW_EVENTS_PER_SECOND"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate > 0 {
			c.RateLimit.EventsPerSecond = rate
		}
	}
}

// Validate checks the configuration for operability.
func (c *Config) Validate() error {
	var problems []string

	if c.Engine.EventSubject == "" {
		problems = append(problems, "engine.event_subject is required")
	}
	if c.Engine.RuleBucket == "" {
		problems = append(problems, "engine.rule_bucket is required")
	}
	if c.Engine.TriggerBucket == "" {
		problems = append(problems, "engine.trigger_bucket is required")
	}
	if c.NATS.URL == "" {
		problems = append(problems, "nats.url is required")
	}
	if c.Executor.BaseURL == "" {
		problems = append(problems, "executor.base_url is required")
	}
	if c.Executor.Timeout <= 0 {
		problems = append(problems, "executor.timeout must be positive")
	}
	if c.Gateway.ListenAddr == "" {
		problems = append(problems, "gateway.listen_addr is required")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		problems = append(problems, "cache.ttl must be positive when cache is enabled")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.EventsPerSecond <= 0 {
			problems = append(problems, "rate_limit.events_per_second must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			problems = append(problems, "rate_limit.burst must be positive")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug/info/warn/error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not json or text", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, problems),
			"Config", "Validate", "check configuration")
	}
	return nil
}
