package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorq/mirrorq/internal/logger"
	"github.com/mirrorq/mirrorq/pkg/config"
	"github.com/mirrorq/mirrorq/pkg/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mirrorq service",
	Long: `Start the mirrorq replication service with the specified configuration.

The service restores previously running buckets, serves the REST API, and
keeps copying until interrupted. SIGINT and SIGTERM trigger graceful
shutdown: in-flight copies finish (bounded by the shutdown timeout) and
interrupted work resumes on the next start.

Examples:
  # Start with default config location
  mirrorq start

  # Start with custom config file
  mirrorq start --config /etc/mirrorq/config.yaml

  # Use environment variables to override config
  MIRRORQ_LOGGING_LEVEL=DEBUG mirrorq start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return err
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- svc.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Service is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Service shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Service stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Service error", logger.Err(err))
			return err
		}
		logger.Info("Service stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
