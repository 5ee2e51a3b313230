package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("IEX_KEY", "")
	t.Setenv("UPSTREAM_API_KEY", "")

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.App.Port != ":8003" {
		t.Errorf("App.Port = %q, want %q", cfg.App.Port, ":8003")
	}
	if cfg.Relay.TickInterval != time.Second {
		t.Errorf("Relay.TickInterval = %s, want 1s", cfg.Relay.TickInterval)
	}
	if cfg.Upstream.IdleTimeout != 0 {
		t.Errorf("Upstream.IdleTimeout = %s, want disabled", cfg.Upstream.IdleTimeout)
	}
	if cfg.HasUpstreamCredential() {
		t.Error("expected no upstream credential by default")
	}
	if cfg.Feed.Port != ":8004" {
		t.Errorf("Feed.Port = %q, want %q", cfg.Feed.Port, ":8004")
	}
	if cfg.Kafka.Enabled || cfg.Redis.Enabled {
		t.Error("kafka and redis should be opt-in")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", ":9000")
	t.Setenv("RELAY_TICK_INTERVAL", "250ms")
	t.Setenv("UPSTREAM_IDLE_TIMEOUT", "45s")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.App.Port != ":9000" {
		t.Errorf("App.Port = %q, want %q", cfg.App.Port, ":9000")
	}
	if cfg.Relay.TickInterval != 250*time.Millisecond {
		t.Errorf("Relay.TickInterval = %s, want 250ms", cfg.Relay.TickInterval)
	}
	if cfg.Upstream.IdleTimeout != 45*time.Second {
		t.Errorf("Upstream.IdleTimeout = %s, want 45s", cfg.Upstream.IdleTimeout)
	}
	if !cfg.Redis.Enabled {
		t.Error("expected redis to be enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_LegacyCredentialVariable(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "")
	t.Setenv("IEX_KEY", "secret123")

	cfg, err := load(viper.New())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Upstream.APIKey != "secret123" {
		t.Errorf("Upstream.APIKey = %q, want %q", cfg.Upstream.APIKey, "secret123")
	}
	if !cfg.HasUpstreamCredential() {
		t.Error("expected credential to be detected")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			App:       AppConfig{Port: ":8003"},
			Upstream:  UpstreamConfig{URL: "wss://feed"},
			Relay:     RelayConfig{TickInterval: time.Second, DrainTimeout: time.Second, WriteTimeout: time.Second},
			Processor: ProcessorConfig{NumWorkers: 1},
			Feed:      FeedConfig{Port: ":8004", TickInterval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty port", func(c *Config) { c.App.Port = "" }, true},
		{"zero tick", func(c *Config) { c.Relay.TickInterval = 0 }, true},
		{"negative drain", func(c *Config) { c.Relay.DrainTimeout = -time.Second }, true},
		{"negative idle", func(c *Config) { c.Upstream.IdleTimeout = -time.Second }, true},
		{"credential without url", func(c *Config) { c.Upstream.APIKey = "k"; c.Upstream.URL = "" }, true},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"no workers", func(c *Config) { c.Processor.NumWorkers = 0 }, true},
		{"zero feed tick", func(c *Config) { c.Feed.TickInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "debug", Encoding: "console"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}

	if _, err := NewLogger(LoggerConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewLogger(LoggerConfig{Level: "info", Encoding: "xml"}); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
