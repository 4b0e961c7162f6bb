// Package main provides the lightweight entry point for the adverse event MCP server.
// This version requires no external databases: the audit log and similarity
// index are SQLite files in the data directory.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/config"
	"github.com/pv-ae-server/internal/mcp"
)

func main() {
	// optional; the environment wins over .env
	_ = godotenv.Load()

	cfg := config.LoadLiteConfig()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := mcp.NewLiteServer(ctx, cfg, mcp.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}
	defer server.Close()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		server.Close()
		os.Exit(1)
	}

	logger.Info("Adverse event MCP server (lite) stopped")
}
