package config

import (
	"fmt"
	"slices"
	"strings"
)

// Validate checks the configuration, typically after command line overrides
func (c *Config) Validate() error {
	return validate(c)
}

// validate validates the configuration
func validate(config *Config) error {
	if err := validateInput(&config.Input); err != nil {
		return fmt.Errorf("input config: %w", err)
	}

	if err := validateOutput(&config.Output); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := validateBatch(&config.Batch); err != nil {
		return fmt.Errorf("batch config: %w", err)
	}

	if err := validateWeb(&config.Web); err != nil {
		return fmt.Errorf("web config: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := validateMetrics(&config.Metrics); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

func validateInput(config *InputConfig) error {
	if config.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	return nil
}

func validateOutput(config *OutputConfig) error {
	if config.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	validFormats := []string{"yaml", "json"}
	if !slices.Contains(validFormats, config.ConstantsFormat) {
		return fmt.Errorf("invalid constants format: %s (must be one of: %s)",
			config.ConstantsFormat, strings.Join(validFormats, ", "))
	}

	return nil
}

func validateBatch(config *BatchConfig) error {
	if config.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	// Parses every filter entry; the selected set itself may be empty.
	if _, err := config.Keys(); err != nil {
		return err
	}
	if _, err := config.Configs(); err != nil {
		return err
	}

	return nil
}

func validateWeb(config *WebConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port: %d", config.Port)
	}

	return nil
}

func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, config.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			config.Level, strings.Join(validLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if !slices.Contains(validFormats, config.Format) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)",
			config.Format, strings.Join(validFormats, ", "))
	}

	if config.MaxSize < 1 {
		return fmt.Errorf("max_size must be at least 1")
	}

	if config.MaxBackups < 0 {
		return fmt.Errorf("max_backups cannot be negative")
	}

	if config.MaxAge < 0 {
		return fmt.Errorf("max_age cannot be negative")
	}

	return nil
}

func validateMetrics(config *MetricsConfig) error {
	if !config.Enabled {
		return nil
	}

	if config.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if !strings.HasPrefix(config.Path, "/") {
		return fmt.Errorf("path must start with /")
	}

	if strings.HasPrefix(config.Path, "/api/") || config.Path == "/ws" {
		return fmt.Errorf("path %s collides with an API route", config.Path)
	}

	return nil
}
