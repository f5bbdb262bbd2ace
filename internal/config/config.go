// Package config loads the runtime configuration from an optional
// YAML/JSON5 file plus RACCOON_-prefixed environment variables, with
// environment taking precedence over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for the Raccoon runtime.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Providers     ProvidersConfig     `yaml:"providers" json:"providers"`
	Sandbox       SandboxConfig       `yaml:"sandbox" json:"sandbox"`
	Deadlines     DeadlineConfig      `yaml:"deadlines" json:"deadlines"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Audit         AuditConfig         `yaml:"audit" json:"audit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`

	// ToolServers are remote tool servers connected at startup. File-only;
	// there is no environment form for a list.
	ToolServers []ToolServerConfig `yaml:"tool_servers" json:"tool_servers,omitempty"`
}

type ServerConfig struct {
	GRPCPort   int `yaml:"grpc_port" json:"grpc_port"`
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`

	// MaxMessageSize caps gRPC send and receive sizes, in bytes.
	MaxMessageSize int `yaml:"max_message_size" json:"max_message_size"`
}

type ProvidersConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key" json:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key" json:"openai_api_key"`

	// DefaultModel is used when a request omits the model.
	DefaultModel string `yaml:"default_model" json:"default_model"`
}

type SandboxConfig struct {
	E2BAPIKey string `yaml:"e2b_api_key"`

	// TimeoutSeconds is the idle lifetime of a sandbox; the reaper destroys
	// sandboxes idle longer than this.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// MaxCPU and MaxMemoryMB cap caller-supplied limits.
	MaxCPU      int `yaml:"max_cpu" json:"max_cpu"`
	MaxMemoryMB int `yaml:"max_memory_mb" json:"max_memory_mb"`
}

// DeadlineConfig carries the runtime reliability policy, in seconds.
type DeadlineConfig struct {
	AgentTurnSeconds     int `yaml:"agent_turn_seconds" json:"agent_turn_seconds"`
	ToolCallSeconds      int `yaml:"tool_call_seconds" json:"tool_call_seconds"`
	CodeExecutionSeconds int `yaml:"code_execution_seconds" json:"code_execution_seconds"`
}

type ObservabilityConfig struct {
	// OTELEndpoint enables OTLP trace export when non-empty.
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	MetricsPort  int    `yaml:"metrics_port" json:"metrics_port"`
}

type AuditConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output" json:"output"`
	Format string `yaml:"format" json:"format"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ToolServerConfig names a remote tool server to connect when the runtime
// starts. Connection failures are logged, not fatal.
type ToolServerConfig struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`

	// Token, when set, is sent as a bearer credential.
	Token string `yaml:"token" json:"token,omitempty"`
}

// Load reads the optional config file at path (empty means no file), applies
// RACCOON_* environment overrides, then defaults, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envPrefix is prepended to every environment variable key.
const envPrefix = "RACCOON_"

func applyEnv(cfg *Config) error {
	var err error
	setInt := func(key string, dst *int) {
		if err != nil {
			return
		}
		raw, ok := os.LookupEnv(envPrefix + key)
		if !ok || raw == "" {
			return
		}
		n, perr := strconv.Atoi(raw)
		if perr != nil {
			err = fmt.Errorf("invalid %s%s: %w", envPrefix, key, perr)
			return
		}
		*dst = n
	}
	setString := func(key string, dst *string) {
		if raw, ok := os.LookupEnv(envPrefix + key); ok && raw != "" {
			*dst = raw
		}
	}
	setBool := func(key string, dst *bool) {
		if err != nil {
			return
		}
		raw, ok := os.LookupEnv(envPrefix + key)
		if !ok || raw == "" {
			return
		}
		b, perr := strconv.ParseBool(raw)
		if perr != nil {
			err = fmt.Errorf("invalid %s%s: %w", envPrefix, key, perr)
			return
		}
		*dst = b
	}

	setInt("GRPC_PORT", &cfg.Server.GRPCPort)
	setInt("MAX_WORKERS", &cfg.Server.MaxWorkers)
	setInt("MAX_MESSAGE_SIZE", &cfg.Server.MaxMessageSize)

	setString("ANTHROPIC_API_KEY", &cfg.Providers.AnthropicAPIKey)
	setString("OPENAI_API_KEY", &cfg.Providers.OpenAIAPIKey)
	setString("DEFAULT_MODEL", &cfg.Providers.DefaultModel)

	setString("E2B_API_KEY", &cfg.Sandbox.E2BAPIKey)
	setInt("SANDBOX_TIMEOUT", &cfg.Sandbox.TimeoutSeconds)
	setInt("SANDBOX_MAX_CPU", &cfg.Sandbox.MaxCPU)
	setInt("SANDBOX_MAX_MEMORY_MB", &cfg.Sandbox.MaxMemoryMB)

	setInt("AGENT_TURN_DEADLINE", &cfg.Deadlines.AgentTurnSeconds)
	setInt("TOOL_CALL_DEADLINE", &cfg.Deadlines.ToolCallSeconds)
	setInt("CODE_EXECUTION_DEADLINE", &cfg.Deadlines.CodeExecutionSeconds)

	setString("OTEL_ENDPOINT", &cfg.Observability.OTELEndpoint)
	setInt("METRICS_PORT", &cfg.Observability.MetricsPort)

	setBool("AUDIT_ENABLED", &cfg.Audit.Enabled)
	setString("AUDIT_OUTPUT", &cfg.Audit.Output)
	setString("AUDIT_FORMAT", &cfg.Audit.Format)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)

	return err
}

func applyDefaults(cfg *Config) {
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.MaxWorkers == 0 {
		cfg.Server.MaxWorkers = 10
	}
	if cfg.Server.MaxMessageSize == 0 {
		cfg.Server.MaxMessageSize = 50 * 1024 * 1024
	}
	if cfg.Providers.DefaultModel == "" {
		cfg.Providers.DefaultModel = "claude-sonnet-4-6"
	}
	if cfg.Sandbox.TimeoutSeconds == 0 {
		cfg.Sandbox.TimeoutSeconds = 300
	}
	if cfg.Sandbox.MaxCPU == 0 {
		cfg.Sandbox.MaxCPU = 8
	}
	if cfg.Sandbox.MaxMemoryMB == 0 {
		cfg.Sandbox.MaxMemoryMB = 8192
	}
	if cfg.Deadlines.AgentTurnSeconds == 0 {
		cfg.Deadlines.AgentTurnSeconds = 60
	}
	if cfg.Deadlines.ToolCallSeconds == 0 {
		cfg.Deadlines.ToolCallSeconds = 20
	}
	if cfg.Deadlines.CodeExecutionSeconds == 0 {
		cfg.Deadlines.CodeExecutionSeconds = 45
	}
	if cfg.Observability.MetricsPort == 0 {
		cfg.Observability.MetricsPort = 9090
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = "json"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.GRPCPort < 1 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port %d out of range", c.Server.GRPCPort)
	}
	if c.Server.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be positive, got %d", c.Server.MaxWorkers)
	}
	if c.Deadlines.AgentTurnSeconds < 1 || c.Deadlines.ToolCallSeconds < 1 || c.Deadlines.CodeExecutionSeconds < 1 {
		return fmt.Errorf("deadlines must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	for i, ts := range c.ToolServers {
		if ts.Name == "" || ts.URL == "" {
			return fmt.Errorf("tool_servers[%d]: name and url are required", i)
		}
	}
	return nil
}

// TurnDeadline returns the agent turn deadline as a duration.
func (c *Config) TurnDeadline() time.Duration {
	return time.Duration(c.Deadlines.AgentTurnSeconds) * time.Second
}

// ToolCallDeadline returns the per-tool deadline as a duration.
func (c *Config) ToolCallDeadline() time.Duration {
	return time.Duration(c.Deadlines.ToolCallSeconds) * time.Second
}

// CodeExecutionDeadline returns the sandbox per-execution deadline.
func (c *Config) CodeExecutionDeadline() time.Duration {
	return time.Duration(c.Deadlines.CodeExecutionSeconds) * time.Second
}

// SandboxIdleTimeout returns the sandbox idle lifetime.
func (c *Config) SandboxIdleTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSeconds) * time.Second
}
