// Package config loads the process configuration from file and environment.
// Precedence is environment over file over defaults; environment variables
// use the AGENTRELAY_ prefix with underscores for nesting (for example
// AGENTRELAY_POOL_MAX_CONCURRENT).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration tree.
type Config struct {
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Session   SessionConfig   `mapstructure:"session"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// RuntimeConfig selects and parameterizes the agent runtime backend.
type RuntimeConfig struct {
	// Kind is one of "opencode", "anthropic", "openai".
	Kind string `mapstructure:"kind"`
	// URL is the opencode server base URL.
	URL string `mapstructure:"url"`
	// Model overrides the default model for the direct backends.
	Model string `mapstructure:"model"`
	// APIKey overrides the SDK environment lookup for the direct backends.
	APIKey string `mapstructure:"api_key"`
}

// SessionConfig tunes session lifecycle management.
type SessionConfig struct {
	DefaultProjectDir string        `mapstructure:"default_project_dir"`
	DirectInactivity  time.Duration `mapstructure:"direct_inactivity"`
	ChannelInactivity time.Duration `mapstructure:"channel_inactivity"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// PoolConfig tunes the agent pool.
type PoolConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
}

// StreamingConfig tunes response streaming to chat surfaces.
type StreamingConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxDisplay  int           `mapstructure:"max_display"`
}

// WorkflowsConfig locates workflow definition files.
type WorkflowsConfig struct {
	Dir string `mapstructure:"dir"`
}

// HistoryConfig selects the transcript store backend.
type HistoryConfig struct {
	// Backend is "memory" or "redis".
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
	MaxTurns  int           `mapstructure:"max_turns"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is "json" or "text".
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from the given file (optional, "" searches the
// default locations) plus the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agentrelay")
		v.AddConfigPath("/etc/agentrelay")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.kind", "opencode")
	v.SetDefault("runtime.url", "http://127.0.0.1:4096")
	// Empty defaults keep these keys visible to AutomaticEnv.
	v.SetDefault("runtime.model", "")
	v.SetDefault("runtime.api_key", "")
	v.SetDefault("workflows.dir", "")

	v.SetDefault("session.default_project_dir", ".")
	v.SetDefault("session.direct_inactivity", 2*time.Hour)
	v.SetDefault("session.channel_inactivity", 30*time.Minute)
	v.SetDefault("session.sweep_interval", time.Minute)

	v.SetDefault("pool.max_concurrent", 3)
	v.SetDefault("pool.acquire_timeout", 30*time.Second)
	v.SetDefault("pool.task_timeout", 5*time.Minute)

	v.SetDefault("streaming.min_interval", time.Second)
	v.SetDefault("streaming.max_display", 3800)

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.redis_addr", "127.0.0.1:6379")
	v.SetDefault("history.ttl", 7*24*time.Hour)
	v.SetDefault("history.max_turns", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

func (c *Config) validate() error {
	switch c.Runtime.Kind {
	case "opencode", "anthropic", "openai":
	default:
		return fmt.Errorf("runtime.kind %q: must be opencode, anthropic, or openai", c.Runtime.Kind)
	}
	switch c.History.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("history.backend %q: must be memory or redis", c.History.Backend)
	}
	if c.Pool.MaxConcurrent < 1 {
		return fmt.Errorf("pool.max_concurrent must be at least 1")
	}
	return nil
}
