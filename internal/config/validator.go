package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProviderKind validates a provider kind name
func (v *Validator) ValidateProviderKind(kind string) error {
	validKinds := []string{"mistral", "openai", "anthropic"}
	for _, valid := range validKinds {
		if kind == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider kind: %s (must be one of: %s)", kind, strings.Join(validKinds, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, kind := range cfg.Providers.Order {
		if err := v.ValidateProviderKind(kind); err != nil {
			errors = append(errors, fmt.Errorf("providers.order[%d]: %w", i, err))
		}
	}
	if cfg.Providers.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("providers.timeout_seconds must be positive"))
	}
	if cfg.Providers.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("providers.max_retries must be >= 0"))
	}

	if cfg.Agent.MaxTurns <= 0 {
		errors = append(errors, fmt.Errorf("agent.max_turns must be positive"))
	}
	if cfg.Agent.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Agent.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Server.Enabled {
		if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
			errors = append(errors, fmt.Errorf("server.port must be between 1 and 65535"))
		}
	}

	if cfg.Search.BaseURL == "" {
		errors = append(errors, fmt.Errorf("search.base_url cannot be empty"))
	}
	if cfg.Search.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("search.timeout_seconds must be positive"))
	}

	if cfg.Retention.Enabled {
		if _, err := time.ParseDuration(cfg.Retention.MaxAge); err != nil {
			errors = append(errors, fmt.Errorf("retention.max_age: %w", err))
		}
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errors = append(errors, fmt.Errorf("retention.schedule: %w", err))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors
}
