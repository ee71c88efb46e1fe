// Package config loads and validates the mirrorq service configuration.
//
// Sources, highest precedence first: environment variables (MIRRORQ_*), the
// configuration file, defaults. The file lives at
// $XDG_CONFIG_HOME/mirrorq/config.yaml unless a path is given explicitly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mirrorq/mirrorq/pkg/queue"
)

// Config is the full mirrorq configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout bounds graceful shutdown; workers still running when it
	// expires are recovered to pending on the next start
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the queue store
	Database queue.Config `mapstructure:"database" yaml:"database"`

	// Workers bounds per-bucket parallelism
	Workers WorkersConfig `mapstructure:"workers" yaml:"workers"`

	// Copy configures the copy workers
	Copy CopyConfig `mapstructure:"copy" yaml:"copy"`

	// Scan configures source enumeration
	Scan ScanConfig `mapstructure:"scan" yaml:"scan"`

	// API configures the REST control plane
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// WorkersConfig bounds per-bucket copy parallelism.
type WorkersConfig struct {
	// DefaultCount is applied to buckets created without a worker cap
	DefaultCount int `mapstructure:"default_count" validate:"required,min=1" yaml:"default_count"`

	// MaxCount caps any bucket's worker count
	MaxCount int `mapstructure:"max_count" validate:"required,min=1,gtefield=DefaultCount" yaml:"max_count"`
}

// CopyConfig configures the copy workers.
type CopyConfig struct {
	// HashAlgorithm selects the content hash: sha256, xxhash64, xxhash3.
	// Pinned in the database on first start; changing it with hashed rows
	// present refuses to start.
	HashAlgorithm string `mapstructure:"hash_algorithm" validate:"required,oneof=sha256 xxhash64 xxhash3" yaml:"hash_algorithm"`

	// BufferSize is the streaming chunk size in bytes
	BufferSize int `mapstructure:"buffer_size" validate:"required,min=4096" yaml:"buffer_size"`
}

// ScanConfig configures source enumeration.
type ScanConfig struct {
	// Recursive walks source roots recursively
	Recursive bool `mapstructure:"recursive" yaml:"recursive"`

	// IgnorePatterns are filepath.Match patterns applied to base names and
	// slash-relative paths
	IgnorePatterns []string `mapstructure:"ignore_patterns" yaml:"ignore_patterns,omitempty"`

	// PreDedupe marks entries completed at scan time when the destination
	// exists with the same size. Size equality does not imply content
	// equality; off by default.
	PreDedupe bool `mapstructure:"pre_dedupe" yaml:"pre_dedupe"`

	// Watch re-scans running buckets on filesystem events
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// APIConfig configures the REST control plane server.
type APIConfig struct {
	// Host is the listen address
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the listen port
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics listen port
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, telling the user how to create one when the
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  mirrorq init\n\n"+
				"Or specify a custom config file:\n"+
				"  mirrorq <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  mirrorq init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks a configuration against the struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig writes the configuration to path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes a default configuration file at the default location and
// returns its path. Refuses to overwrite an existing file unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file at path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}
	return SaveConfig(GetDefaultConfig(), path)
}

// setupViper configures the environment prefix and config file search.
// Example override: MIRRORQ_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MIRRORQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. A missing file is not an
// error; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook parses "30s" style strings into time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/mirrorq, falling back to
// ~/.config/mirrorq.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mirrorq")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mirrorq")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
