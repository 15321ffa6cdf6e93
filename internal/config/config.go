package config

import (
	"fmt"
)

// Config represents the main OpenClaw configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Agent run defaults
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Auth profiles for model providers
	AuthProfiles []AuthProfileConfig `json:"auth_profiles" mapstructure:"auth_profiles"`

	// Workspace root directory
	WorkspaceDir string `json:"workspace_dir" mapstructure:"workspace_dir"`

	// Gateway server configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Cron-triggered runs
	Cron CronConfig `json:"cron" mapstructure:"cron"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// AgentConfig holds defaults applied to run requests that omit them
type AgentConfig struct {
	Provider        string `json:"provider" mapstructure:"provider"`
	Model           string `json:"model" mapstructure:"model"`
	TimeoutMs       int    `json:"timeout_ms" mapstructure:"timeout_ms"`
	BlockReplyBreak string `json:"block_reply_break" mapstructure:"block_reply_break"` // text_end, message_end
	EnforceFinalTag bool   `json:"enforce_final_tag" mapstructure:"enforce_final_tag"`
	Verbose         bool   `json:"verbose" mapstructure:"verbose"`
	GlobalLane      string `json:"global_lane" mapstructure:"global_lane"`
	// GlobalLaneConcurrency above one turns the global lane from a mutex
	// into a throttle.
	GlobalLaneConcurrency int `json:"global_lane_concurrency" mapstructure:"global_lane_concurrency"`
}

// AuthProfileConfig holds credentials for one provider
type AuthProfileConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// CronConfig holds scheduled run configuration
type CronConfig struct {
	Enabled bool            `json:"enabled" mapstructure:"enabled"`
	Jobs    []CronJobConfig `json:"jobs" mapstructure:"jobs"`
}

// CronJobConfig describes one scheduled run request
type CronJobConfig struct {
	Name       string `json:"name" mapstructure:"name"`
	Schedule   string `json:"schedule" mapstructure:"schedule"`
	SessionKey string `json:"session_key" mapstructure:"session_key"`
	Prompt     string `json:"prompt" mapstructure:"prompt"`
}

// DefaultConfig returns a configuration with sane defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Agent: AgentConfig{
			Provider:              "anthropic",
			Model:                 "claude-sonnet-4-20250514",
			TimeoutMs:             600000,
			BlockReplyBreak:       "text_end",
			GlobalLane:            "main",
			GlobalLaneConcurrency: 1,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18789,
		},
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Agent.BlockReplyBreak {
	case "", "text_end", "message_end":
	default:
		return fmt.Errorf("invalid block_reply_break: %q", c.Agent.BlockReplyBreak)
	}

	if c.Agent.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms cannot be negative")
	}

	if c.Agent.GlobalLaneConcurrency < 0 {
		return fmt.Errorf("global_lane_concurrency cannot be negative")
	}

	for i, p := range c.AuthProfiles {
		if p.Provider == "" {
			return fmt.Errorf("auth profile %d has empty provider", i)
		}
		switch p.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("auth profile %d has unsupported provider: %s", i, p.Provider)
		}
	}

	if c.Gateway.Enabled && (c.Gateway.Port <= 0 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}

	for i, job := range c.Cron.Jobs {
		if job.Schedule == "" {
			return fmt.Errorf("cron job %d has empty schedule", i)
		}
		if job.Prompt == "" {
			return fmt.Errorf("cron job %d has empty prompt", i)
		}
	}

	return nil
}
