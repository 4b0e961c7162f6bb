package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pv-ae-server/internal/app"
	"github.com/pv-ae-server/internal/config"
	"github.com/pv-ae-server/internal/mcp"
)

func main() {
	configFile := flag.String("config", "", "path to a config file")
	transport := flag.String("transport", "stdio", "stdio or http")
	port := flag.Int("port", 8081, "listen port for the http transport")
	exportDir := flag.String("export-dir", "exports", "directory export_audit writes to")
	flag.Parse()

	_ = godotenv.Load()

	configManager, err := config.NewManagerWithFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	// stdout carries the MCP stream
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	if err := os.MkdirAll(*exportDir, 0755); err != nil {
		logger.WithError(err).Fatal("Failed to create export directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize components")
	}
	defer components.Close()

	server := mcp.NewServer(components.Pipeline, mcp.ServeOptions{
		Transport: *transport,
		HTTPPort:  *port,
		ExportDir: *exportDir,
		Reviews:   components.Reviews,
	}, logger)

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		components.Close()
		os.Exit(1)
	}

	logger.Info("Adverse event MCP server stopped")
}
