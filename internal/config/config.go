// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// VLMMode selects which vision-language execution strategy the agent runs.
type VLMMode string

const (
	// ModeGeneral is the richest strategy: multi-phase plan/act/reflect driven
	// by a general-purpose multimodal model.
	ModeGeneral VLMMode = "general"
	// ModeSession talks to a service that keeps multi-turn context server-side
	// behind an opaque session token.
	ModeSession VLMMode = "session"
	// ModeNormalized uses a model that emits coordinates pre-normalized to a
	// fixed 0-999 integer scale.
	ModeNormalized VLMMode = "normalized"
)

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// VLMEndpointConfig defines the connection settings for a single VLM backend.
type VLMEndpointConfig struct {
	Model      string        `mapstructure:"model" yaml:"model"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// MaxRetries bounds the transport-level retry loop inside one predict call.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// RequestsPerMinute throttles outbound calls; zero disables the limiter.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Temperature       float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// VLMConfig selects the active mode and holds per-mode endpoint settings.
type VLMConfig struct {
	Mode       VLMMode           `mapstructure:"mode" yaml:"mode"`
	General    VLMEndpointConfig `mapstructure:"general" yaml:"general"`
	Session    VLMEndpointConfig `mapstructure:"session" yaml:"session"`
	Normalized VLMEndpointConfig `mapstructure:"normalized" yaml:"normalized"`
}

// AgentConfig holds the orchestration-loop tunables.
type AgentConfig struct {
	MaxSteps            int           `mapstructure:"max_steps" yaml:"max_steps"`
	StepTimeout         time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	SettleDelay         time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	FirstStepSettle     time.Duration `mapstructure:"first_step_settle" yaml:"first_step_settle"`
	EscalationThreshold int           `mapstructure:"escalation_threshold" yaml:"escalation_threshold"`
	// GiveUpAfter is the consecutive VLM-failure count at which a run is
	// abandoned as failed.
	GiveUpAfter int `mapstructure:"give_up_after" yaml:"give_up_after"`
	// MemoryDepth bounds conversation memory for the non-general modes.
	MemoryDepth int  `mapstructure:"memory_depth" yaml:"memory_depth"`
	Notetaker   bool `mapstructure:"notetaker" yaml:"notetaker"`
}

// DeviceConfig holds settings for the device control channel.
type DeviceConfig struct {
	// ADBPath is the binary used for the reduced-trust local fallback channel.
	ADBPath string `mapstructure:"adb_path" yaml:"adb_path"`
	Serial  string `mapstructure:"serial" yaml:"serial"`
	// CommandTimeout bounds every individual device command.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// SkillsConfig points at the optional skill catalog.
type SkillsConfig struct {
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
}

// Config is the root application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	VLM    VLMConfig    `mapstructure:"vlm" yaml:"vlm"`
	Agent  AgentConfig  `mapstructure:"agent" yaml:"agent"`
	Device DeviceConfig `mapstructure:"device" yaml:"device"`
	Skills SkillsConfig `mapstructure:"skills" yaml:"skills"`
}

// DefaultConfigDir returns the directory searched for droidpilot.yaml.
func DefaultConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".droidpilot"), nil
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "droidpilot.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- VLM --
	v.SetDefault("vlm.mode", string(ModeGeneral))
	v.SetDefault("vlm.general.model", "gemini-2.5-pro")
	v.SetDefault("vlm.general.api_timeout", "60s")
	v.SetDefault("vlm.general.max_retries", 3)
	v.SetDefault("vlm.general.temperature", 0.1)
	v.SetDefault("vlm.general.max_tokens", 4096)
	v.SetDefault("vlm.session.api_timeout", "60s")
	v.SetDefault("vlm.session.max_retries", 3)
	v.SetDefault("vlm.normalized.api_timeout", "60s")
	v.SetDefault("vlm.normalized.max_retries", 3)
	v.SetDefault("vlm.normalized.temperature", 0.0)

	// -- Agent loop --
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.step_timeout", "60s")
	v.SetDefault("agent.settle_delay", "1500ms")
	v.SetDefault("agent.first_step_settle", "5s")
	v.SetDefault("agent.escalation_threshold", 3)
	v.SetDefault("agent.give_up_after", 5)
	v.SetDefault("agent.memory_depth", 8)
	v.SetDefault("agent.notetaker", true)

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.command_timeout", "15s")
}

// NewDefaultConfig creates a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always unmarshal; guard anyway.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// API keys are secrets; always allow environment override.
	v.BindEnv("vlm.general.api_key", "DROIDPILOT_GENERAL_API_KEY")
	v.BindEnv("vlm.session.api_key", "DROIDPILOT_SESSION_API_KEY")
	v.BindEnv("vlm.normalized.api_key", "DROIDPILOT_NORMALIZED_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.VLM.Mode {
	case ModeGeneral, ModeSession, ModeNormalized:
	default:
		return fmt.Errorf("vlm.mode must be one of general, session, normalized (got %q)", c.VLM.Mode)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.GiveUpAfter <= 0 {
		return fmt.Errorf("agent.give_up_after must be a positive integer")
	}
	if c.Agent.EscalationThreshold <= 0 {
		return fmt.Errorf("agent.escalation_threshold must be a positive integer")
	}
	if c.Agent.StepTimeout <= 0 {
		return fmt.Errorf("agent.step_timeout must be a positive duration")
	}
	if c.Device.CommandTimeout <= 0 {
		return fmt.Errorf("device.command_timeout must be a positive duration")
	}
	return nil
}

// ActiveEndpoint returns the endpoint settings for the selected mode.
func (c *Config) ActiveEndpoint() VLMEndpointConfig {
	switch c.VLM.Mode {
	case ModeSession:
		return c.VLM.Session
	case ModeNormalized:
		return c.VLM.Normalized
	default:
		return c.VLM.General
	}
}
