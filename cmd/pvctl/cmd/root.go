// Package cmd implements pvctl, the operator CLI for the adverse event server.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pv-ae-server/internal/app"
	"github.com/pv-ae-server/internal/config"
	"github.com/pv-ae-server/internal/domain"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "pvctl",
	Short: "Operate the adverse event escalation server",
	Long: `pvctl runs maintenance against the audit log and similarity index:
database migrations, index backfill, audit summaries, exports and S3
archival. It reads the same configuration as the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./config.yaml, ./config/, /etc/pv-ae-server/)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"log level (debug, info, warn, error)")
}

// loadConfig reads and validates the server configuration
func loadConfig() (*domain.Config, error) {
	_ = godotenv.Load()

	manager, err := config.NewManagerWithFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := manager.GetConfig()
	cfg.Logging.Level = logLevel
	// stdout is reserved for command output
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	return cfg, nil
}

// withComponents loads configuration, builds every component and runs fn
func withComponents(ctx context.Context, fn func(*domain.Config, *app.Components, *logrus.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	return fn(cfg, components, logger)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
