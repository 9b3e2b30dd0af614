package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvironmentType represents the application environment
type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentProduction  EnvironmentType = "production"
)

// String returns the string representation of the environment type
func (e EnvironmentType) String() string {
	return string(e)
}

// IsValid checks if the environment type is valid
func (e EnvironmentType) IsValid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// Environment holds the environment variables
type Environment struct {
	Environment EnvironmentType `env:"ENVIRONMENT"`
	ConfigPath  string          `env:"CONFIG_PATH"`
	AdminToken  string          `env:"ADMIN_TOKEN"`
	DBPassword  string          `env:"DB_PASSWORD"`
}

// LoadEnv loads the environment variables, reading .env first when it exists.
// Variables already present in the process environment win over .env.
func LoadEnv() *Environment {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	envStr := strings.ToLower(strings.TrimSpace(getEnv("ENVIRONMENT", string(EnvironmentDevelopment))))
	envType := EnvironmentType(envStr)

	// Validate and default to development if invalid
	if !envType.IsValid() {
		envType = EnvironmentDevelopment
	}

	return &Environment{
		Environment: envType,
		ConfigPath:  getEnv("CONFIG_PATH", "config.yaml"),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		DBPassword:  getEnv("DB_PASSWORD", ""),
	}
}

// Apply overlays secrets from the environment on top of the file config.
// In production an admin token is mandatory.
func (e *Environment) Apply(cfg *Config) error {
	if e.AdminToken != "" {
		cfg.Server.AdminToken = e.AdminToken
	}
	if e.DBPassword != "" {
		cfg.Database.Password = e.DBPassword
	}
	if e.Environment == EnvironmentProduction && cfg.Server.AdminToken == "" {
		return errors.New("admin token is required in production environment")
	}
	return nil
}

// getEnv gets the environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
