package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if provider == "scripted" {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates a provider name
func (v *Validator) ValidateProvider(provider string) error {
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateSchedule validates a cron spec such as "@every 5m" or "*/5 * * * *"
func (v *Validator) ValidateSchedule(field, spec string) error {
	if spec == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if _, err := v.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, spec, err)
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

	for i, profile := range cfg.AI.Profiles {
		if err := v.ValidateProvider(profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
		if profile.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(profile.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	if cfg.Scheduler.Permits > cfg.Scheduler.Workers {
		errors = append(errors, fmt.Errorf("scheduler.permits (%d) must not exceed scheduler.workers (%d)", cfg.Scheduler.Permits, cfg.Scheduler.Workers))
	}

	if cfg.Cleanup.Enabled {
		if err := v.ValidateSchedule("cleanup.schedule", cfg.Cleanup.Schedule); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Persistence.SaveSchedule != "" {
		if err := v.ValidateSchedule("persistence.save_schedule", cfg.Persistence.SaveSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.AI.MaxToolLoops < 0 {
		errors = append(errors, fmt.Errorf("ai.max_tool_loops must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
