package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default values applied to any section the config file leaves out.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultShutdownTimeout = 30 * time.Second

	DefaultWorkerCount    = 4
	DefaultWorkerMaxCount = 16

	DefaultHashAlgorithm  = "xxhash64"
	DefaultCopyBufferSize = 1 << 20

	DefaultAPIHost = "127.0.0.1"
	DefaultAPIPort = 8095

	DefaultMetricsPort = 9095
)

// GetDefaultConfig returns a fully populated configuration with defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDatabaseDefaults(cfg)
	applyWorkersDefaults(&cfg.Workers)
	applyCopyDefaults(&cfg.Copy)
	applyAPIDefaults(&cfg.API)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = DefaultLogLevel
	} else {
		l.Level = strings.ToUpper(l.Level)
	}
	if l.Format == "" {
		l.Format = DefaultLogFormat
	}
	if l.Output == "" {
		l.Output = DefaultLogOutput
	}
}

func applyDatabaseDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath()
	}
}

func applyWorkersDefaults(w *WorkersConfig) {
	if w.DefaultCount == 0 {
		w.DefaultCount = DefaultWorkerCount
	}
	if w.MaxCount == 0 {
		w.MaxCount = DefaultWorkerMaxCount
	}
}

func applyCopyDefaults(c *CopyConfig) {
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = DefaultHashAlgorithm
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultCopyBufferSize
	}
}

func applyAPIDefaults(a *APIConfig) {
	if a.Host == "" {
		a.Host = DefaultAPIHost
	}
	if a.Port == 0 {
		a.Port = DefaultAPIPort
	}
}

func applyMetricsDefaults(m *MetricsConfig) {
	if m.Port == 0 {
		m.Port = DefaultMetricsPort
	}
}

// defaultDatabasePath returns $XDG_DATA_HOME/mirrorq/queue.db, falling back
// to ~/.local/share/mirrorq/queue.db.
func defaultDatabasePath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "mirrorq", "queue.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mirrorq", "queue.db")
	}
	return filepath.Join(home, ".local", "share", "mirrorq", "queue.db")
}
