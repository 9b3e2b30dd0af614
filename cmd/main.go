package main

import (
	"log/slog"
	"os"

	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/server"
)

func main() {
	envConfig := config.LoadEnv()

	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := envConfig.Apply(cfg); err != nil {
		slog.Error("Invalid environment", "environment", envConfig.Environment.String(), "error", err)
		os.Exit(1)
	}

	if err := server.Start(cfg); err != nil {
		os.Exit(1)
	}
}
