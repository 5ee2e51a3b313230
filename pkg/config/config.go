package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relay, the processor and the feed simulator.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Feed      FeedConfig      `mapstructure:"feed"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

// UpstreamConfig describes the external market-data feed. An empty APIKey
// switches every session to synthetic prices for the life of the process.
type UpstreamConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"` // 0 disables
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

type RelayConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

// FeedConfig drives the stand-alone upstream feed simulator.
type FeedConfig struct {
	Port         string        `mapstructure:"port"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HasUpstreamCredential reports whether sessions should bridge to the upstream feed.
func (c *Config) HasUpstreamCredential() bool {
	return strings.TrimSpace(c.Upstream.APIKey) != ""
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	// Load .env into the process environment if present
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "upstream.url", "upstream.handshake_timeout", "upstream.idle_timeout", "upstream.write_timeout")
	bindEnv(v, "relay.tick_interval", "relay.drain_timeout", "relay.write_timeout")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.ttl")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "processor.num_workers")
	bindEnv(v, "metrics.enabled", "metrics.path")
	bindEnv(v, "feed.port", "feed.tick_interval")

	// IEX_KEY is the variable older deployments set for the feed credential
	if err := v.BindEnv("upstream.api_key", "UPSTREAM_API_KEY", "IEX_KEY"); err != nil {
		return nil, fmt.Errorf("bind upstream credential: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8003")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.url", "wss://ws.finnhub.io")
	v.SetDefault("upstream.handshake_timeout", 10*time.Second)
	v.SetDefault("upstream.idle_timeout", time.Duration(0))
	v.SetDefault("upstream.write_timeout", 5*time.Second)

	v.SetDefault("relay.tick_interval", time.Second)
	v.SetDefault("relay.drain_timeout", 5*time.Second)
	v.SetDefault("relay.write_timeout", 5*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "relay_sessions")
	v.SetDefault("kafka.group_id", "relay-session-processor")

	v.SetDefault("processor.num_workers", 4)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("feed.port", ":8004")
	v.SetDefault("feed.tick_interval", 500*time.Millisecond)
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	if c.App.Port == "" {
		return errors.New("app.port cannot be empty")
	}
	if c.Relay.TickInterval <= 0 {
		return fmt.Errorf("relay.tick_interval must be positive, got %s", c.Relay.TickInterval)
	}
	if c.Relay.DrainTimeout < 0 {
		return fmt.Errorf("relay.drain_timeout cannot be negative, got %s", c.Relay.DrainTimeout)
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be positive, got %s", c.Relay.WriteTimeout)
	}
	if c.Upstream.IdleTimeout < 0 {
		return fmt.Errorf("upstream.idle_timeout cannot be negative, got %s", c.Upstream.IdleTimeout)
	}
	if c.HasUpstreamCredential() && c.Upstream.URL == "" {
		return errors.New("upstream.url is required when an upstream credential is set")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers cannot be empty")
	}
	if c.Feed.TickInterval <= 0 {
		return fmt.Errorf("feed.tick_interval must be positive, got %s", c.Feed.TickInterval)
	}
	if c.Processor.NumWorkers < 1 {
		return fmt.Errorf("processor.num_workers must be >= 1, got %d", c.Processor.NumWorkers)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
