package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Input   InputConfig   `mapstructure:"input"`
	Output  OutputConfig  `mapstructure:"output"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Web     WebConfig     `mapstructure:"web"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// InputConfig locates the coefficient tables
type InputConfig struct {
	// Dir holds one ldpc_table_<FRAME>_<RATE>.csv file per code
	Dir string `mapstructure:"dir"`
}

// OutputConfig controls where artifacts are written
type OutputConfig struct {
	Dir             string `mapstructure:"dir"`
	ConstantsFile   string `mapstructure:"constants_file"`
	ConstantsFormat string `mapstructure:"constants_format"` // yaml or json
	// Force recompiles tables even when a valid artifact exists
	Force bool `mapstructure:"force"`
}

// BatchConfig holds worker pool settings and configuration filters. Empty
// filters select everything.
type BatchConfig struct {
	Workers        int      `mapstructure:"workers"`
	Frames         []string `mapstructure:"frames"`
	Rates          []string `mapstructure:"rates"`
	Constellations []string `mapstructure:"constellations"`
}

// WebConfig holds the HTTP API configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load loads configuration from file and DVBS2_* environment variables. A
// missing config file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dvbs2-tablegen")
	}

	// DVBS2_BATCH_WORKERS overrides batch.workers
	v.SetEnvPrefix("DVBS2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.dir", "tables")

	v.SetDefault("output.dir", "build")
	v.SetDefault("output.constants_file", "build/constants.yaml")
	v.SetDefault("output.constants_format", "yaml")
	v.SetDefault("output.force", false)

	v.SetDefault("batch.workers", runtime.NumCPU())
	v.SetDefault("batch.frames", []string{})
	v.SetDefault("batch.rates", []string{})
	v.SetDefault("batch.constellations", []string{})

	v.SetDefault("web.enabled", false)
	v.SetDefault("web.host", "127.0.0.1")
	v.SetDefault("web.port", 8080)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
}
