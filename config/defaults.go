package config

import "time"

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxSteps:           30,
			GatewayTimeout:     60 * time.Second,
			ToolTimeout:        30 * time.Second,
			MalformedCeiling:   3,
			UnknownToolCeiling: 3,
			Directory:          ".",
		},
		Memory: MemoryConfig{
			Threshold:  16,
			Capacity:   64,
			Summarizer: "extractive",
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
		Model: ModelConfig{
			Provider:    "openai",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Tools: ToolsConfig{
			Browser: true,
		},
		Archive: ArchiveConfig{
			Driver: "none",
			Prefix: "agentloop",
		},
		Sink: SinkConfig{
			Queue: "agentloop.results",
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Backend: "slog",
		},
		Metrics: MetricsConfig{
			Namespace: "agentloop",
		},
	}
}
