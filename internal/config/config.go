package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel/internal/models"
)

// Config holds runtime configuration for the alerting service.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	HTTP     HTTPConfig     `yaml:"http"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Dispatch DispatchConfig `yaml:"dispatch"`

	Channels []ChannelConfig `yaml:"channels"`
	Rules    []RuleConfig    `yaml:"rules"`
}

// HTTPConfig configures the ingest/admin HTTP server.
type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	MaxBodySize int64  `yaml:"max_body_size"`
}

// KafkaConfig configures the event consumer and the history producer.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	EventsTopic  string   `yaml:"events_topic"`
	GroupID      string   `yaml:"group_id"`
	HistoryTopic string   `yaml:"history_topic"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff string   `yaml:"retry_backoff"`
}

// RedisConfig configures the dispatch idempotency store.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	TTL     string `yaml:"ttl"`
}

// EngineConfig configures the window aggregator.
type EngineConfig struct {
	// Buckets is the number of sub-buckets per rule window (B).
	Buckets int `yaml:"buckets"`
	// SweepInterval is the periodic evaluation interval. Empty means
	// derive from the smallest configured window.
	SweepInterval string `yaml:"sweep_interval"`
	// QueueSize is the ingest event channel capacity.
	QueueSize int `yaml:"queue_size"`
	// Workers is the number of ingest workers draining the queue.
	Workers int `yaml:"workers"`
	// FiringQueueSize is the firing channel capacity between the
	// engine and the dispatcher.
	FiringQueueSize int `yaml:"firing_queue_size"`
}

// DispatchConfig configures per-channel delivery retries.
type DispatchConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	RetryBackoff string `yaml:"retry_backoff"`
	MaxBackoff   string `yaml:"max_backoff"`
	SendTimeout  string `yaml:"send_timeout"`
}

// ChannelConfig declares one notification channel.
type ChannelConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // webhook or email

	// webhook
	URL string `yaml:"url,omitempty"`

	// email
	SMTPHost string   `yaml:"smtp_host,omitempty"`
	SMTPPort int      `yaml:"smtp_port,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	From     string   `yaml:"from,omitempty"`
	To       []string `yaml:"to,omitempty"`
}

// RuleConfig declares one seed alert rule in the config file.
// Durations are strings ("5m", "10m") parsed with time.ParseDuration.
type RuleConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Level     string   `yaml:"level"`
	Sources   []string `yaml:"sources,omitempty"`
	Threshold uint64   `yaml:"threshold"`
	Window    string   `yaml:"window"`
	Cooldown  string   `yaml:"cooldown"`
	Channels  []string `yaml:"channels"`
	Disabled  bool     `yaml:"disabled,omitempty"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MaxBodySize: 10 * 1024 * 1024, // 10MB
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			EventsTopic:  "log-events",
			GroupID:      "sentinel",
			HistoryTopic: "alert-history",
			MaxRetries:   3,
			RetryBackoff: "100ms",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     "24h",
		},
		Engine: EngineConfig{
			Buckets:         12,
			QueueSize:       1000,
			Workers:         4,
			FiringQueueSize: 256,
		},
		Dispatch: DispatchConfig{
			MaxRetries:   3,
			RetryBackoff: "500ms",
			MaxBackoff:   "10s",
			SendTimeout:  "10s",
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SeedRules converts the declared rules into validated AlertRules.
func (c *Config) SeedRules() ([]*models.AlertRule, error) {
	rules := make([]*models.AlertRule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		rule, err := rc.ToRule()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ToRule converts a RuleConfig into a validated AlertRule.
func (rc *RuleConfig) ToRule() (*models.AlertRule, error) {
	window, err := time.ParseDuration(rc.Window)
	if err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}

	cooldown := time.Duration(0)
	if rc.Cooldown != "" {
		cooldown, err = time.ParseDuration(rc.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("cooldown: %w", err)
		}
	}

	channels := make([]models.ChannelRef, 0, len(rc.Channels))
	for _, name := range rc.Channels {
		channels = append(channels, models.ChannelRef(name))
	}

	rule := &models.AlertRule{
		ID:             rc.ID,
		Name:           rc.Name,
		LevelFilter:    models.Level(rc.Level),
		Sources:        rc.Sources,
		ThresholdCount: rc.Threshold,
		WindowDuration: window,
		Cooldown:       cooldown,
		Channels:       channels,
		Enabled:        !rc.Disabled,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// ParseDuration parses a duration field, falling back to def when empty.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
