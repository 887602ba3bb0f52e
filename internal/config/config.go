// Package config loads the gateway configuration once at process start.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is built by Load and passed to every component that needs it.
type Config struct {
	Env      string        `mapstructure:"env"`
	LogLevel string        `mapstructure:"log_level"`
	Server   ServerConfig  `mapstructure:"server"`
	Store    StoreConfig   `mapstructure:"store"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Agent    AgentConfig   `mapstructure:"agent"`
	Session  SessionConfig `mapstructure:"session"`
	Tracing  TracingConfig `mapstructure:"tracing"`
	Jobs     JobsConfig    `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// StoreConfig selects the job state backend. "redis" probes Redis and falls
// back to memory; "memory" never touches Redis.
type StoreConfig struct {
	Backend      string        `mapstructure:"backend"`
	Prefix       string        `mapstructure:"prefix"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AgentConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	AgentID      string        `mapstructure:"id"`
	APIVersion   string        `mapstructure:"api_version"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WaitBudget   time.Duration `mapstructure:"wait_budget"`
}

type SessionConfig struct {
	Secret     string `mapstructure:"secret"`
	CookieName string `mapstructure:"cookie_name"`
	Secure     bool   `mapstructure:"secure"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

type JobsConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Warnings lists non-fatal problems found while loading.
type Warnings []string

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", "8000")
	v.SetDefault("server.request_timeout", 45*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 512*1024)

	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.prefix", "agentchat")
	v.SetDefault("store.probe_timeout", 2*time.Second)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("agent.endpoint", "")
	v.SetDefault("agent.id", "")
	v.SetDefault("agent.api_version", "2025-05-01")
	v.SetDefault("agent.poll_interval", time.Second)
	v.SetDefault("agent.wait_budget", 30*time.Second)

	v.SetDefault("session.secret", "")
	v.SetDefault("session.cookie_name", "session")
	v.SetDefault("session.secure", false)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "agentchat-gateway")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("jobs.ttl", 600*time.Second)
}

// Load reads .env (if any), the optional config file at path, and the
// environment. Env keys are the config keys upper-cased with "." replaced by
// "_", e.g. REDIS_ADDR, AGENT_ENDPOINT, SESSION_SECRET.
func Load(path string) (*Config, Warnings, error) {
	var warnings Warnings

	if err := godotenv.Load(); err != nil {
		warnings = append(warnings, "no .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, warnings, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, warnings, fmt.Errorf("decode config: %w", err)
	}

	var missing []string
	if cfg.Agent.Endpoint == "" {
		missing = append(missing, "AGENT_ENDPOINT")
	}
	if cfg.Agent.AgentID == "" {
		missing = append(missing, "AGENT_ID")
	}
	if len(missing) > 0 {
		warnings = append(warnings, "missing required environment variables: "+strings.Join(missing, ", "))
	}

	if cfg.Session.Secret == "" {
		cfg.Session.Secret = uuid.NewString()
		warnings = append(warnings, "SESSION_SECRET not set, generated a random one; sessions will not survive a restart")
	}

	if err := cfg.Validate(); err != nil {
		return nil, warnings, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, warnings, nil
}

// Validate checks values that would make the server misbehave.
// Agent endpoint and id are checked by the agentrun client instead.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port cannot be empty")
	}
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("store.backend must be redis or memory, got %q", c.Store.Backend)
	}
	if c.Jobs.TTL <= 0 {
		return errors.New("jobs.ttl must be > 0")
	}
	if c.Agent.PollInterval <= 0 || c.Agent.WaitBudget <= 0 {
		return errors.New("agent.poll_interval and agent.wait_budget must be > 0")
	}
	if c.Server.RequestTimeout <= c.Agent.WaitBudget {
		return fmt.Errorf("server.request_timeout (%s) must exceed agent.wait_budget (%s)",
			c.Server.RequestTimeout, c.Agent.WaitBudget)
	}
	if c.Server.WriteTimeout <= c.Server.RequestTimeout {
		return fmt.Errorf("server.write_timeout (%s) must exceed server.request_timeout (%s)",
			c.Server.WriteTimeout, c.Server.RequestTimeout)
	}
	return nil
}

// IsDevelopment reports whether Env selects development behavior.
func (c *Config) IsDevelopment() bool {
	return c.Env == "dev" || c.Env == "development"
}
