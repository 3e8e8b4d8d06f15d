package config

// Config represents the main Clerk configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Catalog search
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Retention
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP gateway configuration
type ServerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// StoreConfig holds session store configuration
type StoreConfig struct {
	// Path is the SQLite database path. Empty means volatile-only storage.
	Path string `json:"path" mapstructure:"path"`
}

// SearchConfig holds product catalog configuration
type SearchConfig struct {
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	MaxTurns    int     `json:"max_turns" mapstructure:"max_turns"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// ProvidersConfig holds LLM provider configuration
type ProvidersConfig struct {
	// Order lists provider kinds in preference order.
	Order []string `json:"order" mapstructure:"order"`

	// Models maps provider kind to model name, overriding defaults.
	Models map[string]string `json:"models" mapstructure:"models"`

	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries     int `json:"max_retries" mapstructure:"max_retries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	// SampleRatio is the head-sampling ratio in [0, 1].
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// RetentionConfig holds transcript retention configuration
type RetentionConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	MaxAge   string `json:"max_age" mapstructure:"max_age"`   // e.g. "720h"
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Search: SearchConfig{
			BaseURL:        "https://apiquali.vercel.app",
			TimeoutSeconds: 10,
		},
		Agent: AgentConfig{
			MaxTurns:    10,
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Providers: ProvidersConfig{
			Order:          []string{"mistral", "openai", "anthropic"},
			TimeoutSeconds: 30,
			MaxRetries:     2,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			MaxAge:   "720h",
			Schedule: "0 3 * * *",
		},
	}
}
