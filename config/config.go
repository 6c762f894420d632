// Package config loads runtime settings from YAML with environment overrides.
//
// Precedence is defaults, then the YAML file, then AGENTLOOP_* variables:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentloop.yaml").
//	    Load()
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/agentloop/agent"
	"github.com/hupe1980/agentloop/flow"
)

// Config is the complete runtime configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent" env:"AGENT"`
	Memory  MemoryConfig  `yaml:"memory" env:"MEMORY"`
	Retry   RetryConfig   `yaml:"retry" env:"RETRY"`
	Flow    FlowConfig    `yaml:"flow" env:"FLOW"`
	Model   ModelConfig   `yaml:"model" env:"MODEL"`
	Tools   ToolsConfig   `yaml:"tools" env:"TOOLS"`
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`
	Sink    SinkConfig    `yaml:"sink" env:"SINK"`
	Log     LogConfig     `yaml:"log" env:"LOG"`
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// AgentConfig bounds a single loop.
type AgentConfig struct {
	MaxSteps                int                      `yaml:"max_steps" env:"MAX_STEPS"`
	GatewayTimeout          time.Duration            `yaml:"gateway_timeout" env:"GATEWAY_TIMEOUT"`
	ToolTimeout             time.Duration            `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	ToolTimeouts            map[string]time.Duration `yaml:"tool_timeouts" env:"-"`
	MalformedCeiling        int                      `yaml:"malformed_ceiling" env:"MALFORMED_CEILING"`
	UnknownToolCeiling      int                      `yaml:"unknown_tool_ceiling" env:"UNKNOWN_TOOL_CEILING"`
	IdenticalFailureCeiling int                      `yaml:"identical_failure_ceiling" env:"IDENTICAL_FAILURE_CEILING"`
	Directory               string                   `yaml:"directory" env:"DIRECTORY"`
}

// MemoryConfig sizes the memory window.
type MemoryConfig struct {
	// Threshold is the window size T.
	Threshold        int `yaml:"threshold" env:"THRESHOLD"`
	Capacity         int `yaml:"capacity" env:"CAPACITY"`
	WindowSize       int `yaml:"window_size" env:"WINDOW_SIZE"`
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// Summarizer is "extractive" or "model".
	Summarizer string `yaml:"summarizer" env:"SUMMARIZER"`
}

// RetryConfig shapes gateway and tool retries.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

// FlowConfig configures multi-goal runs.
type FlowConfig struct {
	Parallelism int `yaml:"parallelism" env:"PARALLELISM"`
}

// ModelConfig selects the provider behind the gateway.
type ModelConfig struct {
	// Provider is "openai" or "anthropic".
	Provider          string  `yaml:"provider" env:"PROVIDER"`
	Name              string  `yaml:"name" env:"NAME"`
	APIKey            string  `yaml:"api_key" env:"API_KEY"`
	BaseURL           string  `yaml:"base_url" env:"BASE_URL"`
	Temperature       float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens         int     `yaml:"max_tokens" env:"MAX_TOKENS"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	StrictToolUse     bool    `yaml:"strict_tool_use" env:"STRICT_TOOL_USE"`
}

// ToolsConfig restricts the registry.
type ToolsConfig struct {
	// Allow limits registered tools by name; empty allows all.
	Allow   []string `yaml:"allow" env:"ALLOW"`
	Browser bool     `yaml:"browser" env:"BROWSER"`
	// Recall registers the archive search tool when an archive is configured.
	Recall bool `yaml:"recall" env:"RECALL"`
}

// ArchiveConfig selects where collapsed steps go.
type ArchiveConfig struct {
	// Driver is one of none, memory, redis, sqlite, mysql, postgres.
	Driver string        `yaml:"driver" env:"DRIVER"`
	DSN    string        `yaml:"dsn" env:"DSN"`
	Addr   string        `yaml:"addr" env:"ADDR"`
	Prefix string        `yaml:"prefix" env:"PREFIX"`
	TTL    time.Duration `yaml:"ttl" env:"TTL"`
}

// SinkConfig configures result publishing.
type SinkConfig struct {
	AMQPURL  string `yaml:"amqp_url" env:"AMQP_URL"`
	Exchange string `yaml:"exchange" env:"EXCHANGE"`
	Queue    string `yaml:"queue" env:"QUEUE"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	// Backend is "slog" or "zap".
	Backend string `yaml:"backend" env:"BACKEND"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

var (
	archiveDrivers = []string{"none", "memory", "redis", "sqlite", "mysql", "postgres"}
	providers      = []string{"openai", "anthropic"}
	summarizers    = []string{"extractive", "model"}
	logBackends    = []string{"slog", "zap"}
)

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Agent.MaxSteps >= 0, "agent.max_steps must be >= 0, got %d", c.Agent.MaxSteps)
	check(c.Agent.GatewayTimeout > 0, "agent.gateway_timeout must be positive")
	check(c.Agent.ToolTimeout > 0, "agent.tool_timeout must be positive")
	check(c.Agent.MalformedCeiling > 0, "agent.malformed_ceiling must be positive")
	check(c.Agent.UnknownToolCeiling > 0, "agent.unknown_tool_ceiling must be positive")
	check(c.Agent.IdenticalFailureCeiling >= 0, "agent.identical_failure_ceiling must be >= 0")
	for name, d := range c.Agent.ToolTimeouts {
		check(d > 0, "agent.tool_timeouts.%s must be positive", name)
	}

	check(c.Memory.Threshold >= 2, "memory.threshold must be >= 2, got %d", c.Memory.Threshold)
	check(c.Memory.Capacity == 0 || c.Memory.Capacity > c.Memory.Threshold,
		"memory.capacity (%d) must exceed memory.threshold (%d)", c.Memory.Capacity, c.Memory.Threshold)
	check(c.Memory.WindowSize >= 0, "memory.window_size must be >= 0")
	check(c.Memory.MaxContextTokens >= 0, "memory.max_context_tokens must be >= 0")
	check(slices.Contains(summarizers, c.Memory.Summarizer), "memory.summarizer must be one of %s", strings.Join(summarizers, ", "))

	check(c.Retry.MaxAttempts >= 1, "retry.max_attempts must be >= 1")
	check(c.Retry.InitialBackoff > 0, "retry.initial_backoff must be positive")
	check(c.Retry.MaxBackoff >= c.Retry.InitialBackoff, "retry.max_backoff must be >= retry.initial_backoff")

	check(c.Flow.Parallelism >= 0, "flow.parallelism must be >= 0")

	check(slices.Contains(providers, c.Model.Provider), "model.provider must be one of %s", strings.Join(providers, ", "))
	check(c.Model.RequestsPerSecond >= 0, "model.requests_per_second must be >= 0")

	check(slices.Contains(archiveDrivers, c.Archive.Driver), "archive.driver must be one of %s", strings.Join(archiveDrivers, ", "))
	switch c.Archive.Driver {
	case "redis":
		check(c.Archive.Addr != "", "archive.addr is required for redis")
	case "mysql", "postgres":
		check(c.Archive.DSN != "", "archive.dsn is required for %s", c.Archive.Driver)
	}

	check(slices.Contains(logBackends, c.Log.Backend), "log.backend must be one of %s", strings.Join(logBackends, ", "))

	return errors.Join(errs...)
}

// AgentOptions applies the loop settings.
func (c *Config) AgentOptions() func(o *agent.Options) {
	return func(o *agent.Options) {
		o.MaxSteps = c.Agent.MaxSteps
		o.Threshold = c.Memory.Threshold
		o.MemoryCapacity = c.Memory.Capacity
		o.WindowSize = c.Memory.WindowSize
		o.MaxContextTokens = c.Memory.MaxContextTokens
		o.MaxAttempts = c.Retry.MaxAttempts
		o.InitialBackoff = c.Retry.InitialBackoff
		o.MaxBackoff = c.Retry.MaxBackoff
		o.GatewayTimeout = c.Agent.GatewayTimeout
		o.ToolTimeout = c.Agent.ToolTimeout
		o.ToolTimeouts = c.Agent.ToolTimeouts
		o.MalformedCeiling = c.Agent.MalformedCeiling
		o.UnknownToolCeiling = c.Agent.UnknownToolCeiling
		o.IdenticalFailureCeiling = c.Agent.IdenticalFailureCeiling
	}
}

// FlowOptions applies the coordinator settings.
func (c *Config) FlowOptions() func(o *flow.Options) {
	return func(o *flow.Options) {
		o.Parallelism = c.Flow.Parallelism
		o.Agent = append(o.Agent, c.AgentOptions())
	}
}
