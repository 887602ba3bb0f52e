package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENT_ENDPOINT", "https://agents.example.com/api/projects/p")
	t.Setenv("AGENT_ID", "asst_1")
	t.Setenv("SESSION_SECRET", "s3cret")

	cfg, warnings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 600*time.Second, cfg.Jobs.TTL)
	assert.Equal(t, time.Second, cfg.Agent.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Agent.WaitBudget)
	assert.Equal(t, "s3cret", cfg.Session.Secret)
	assert.NotContains(t, warnings, "missing required environment variables: AGENT_ENDPOINT, AGENT_ID")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("AGENT_WAIT_BUDGET", "10s")
	t.Setenv("JOBS_TTL", "2m")

	cfg, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Second, cfg.Agent.WaitBudget)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.TTL)
}

func TestLoadWarnsOnMissingAgentAndSecret(t *testing.T) {
	t.Setenv("AGENT_ENDPOINT", "")
	t.Setenv("AGENT_ID", "")
	t.Setenv("SESSION_SECRET", "")

	cfg, warnings, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Session.Secret, "a random secret should be generated")
	assert.Contains(t, warnings, "missing required environment variables: AGENT_ENDPOINT, AGENT_ID")
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := "server:\n  port: \"9090\"\nstore:\n  prefix: test\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Store.Prefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }},
		{"zero ttl", func(c *Config) { c.Jobs.TTL = 0 }},
		{"request timeout below wait budget", func(c *Config) { c.Server.RequestTimeout = 10 * time.Second }},
		{"write timeout below request timeout", func(c *Config) { c.Server.WriteTimeout = 40 * time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: "8000", RequestTimeout: 45 * time.Second, WriteTimeout: 60 * time.Second},
		Store:  StoreConfig{Backend: "redis"},
		Agent:  AgentConfig{PollInterval: time.Second, WaitBudget: 30 * time.Second},
		Jobs:   JobsConfig{TTL: 10 * time.Minute},
	}
}
