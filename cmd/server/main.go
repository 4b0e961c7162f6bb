package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/api"
	"github.com/pv-ae-server/internal/app"
	"github.com/pv-ae-server/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: search ./config.yaml, ./config/, /etc/pv-ae-server/)")
	flag.Parse()

	// optional; the environment wins over .env
	_ = godotenv.Load()

	configManager, err := config.NewManagerWithFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize components")
	}
	defer components.Close()

	server := api.NewServer(cfg, api.Deps{
		Pipeline:   components.Pipeline,
		DB:         components.DB,
		Classifier: components.Classifier,
		Extractor:  components.Extractor,
		Catalog:    components.Catalog,
		Hub:        components.Hub,
		Archiver:   components.Archiver,
		Reviews:    components.Reviews,
	}, logger)

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting adverse event escalation server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		components.Close()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
