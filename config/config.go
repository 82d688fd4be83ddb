package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the server needs at startup.
type Config struct {
	Server ServerConfig
	Board  BoardConfig
}

// ServerConfig is the listening address and shutdown behavior.
type ServerConfig struct {
	Host string
	Port int

	// ShutdownGrace bounds how long a graceful shutdown waits for live
	// connections to finish teardown.
	ShutdownGrace time.Duration
}

// BoardConfig sizes the canvas.
type BoardConfig struct {
	// Dim is the square dimension, fixed for the server's lifetime.
	Dim int
}

// Load reads configuration from the environment, falling back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:          getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:          getEnvAsIntOrDefault("PORT", 8080),
			ShutdownGrace: getEnvAsDurationOrDefault("SHUTDOWN_GRACE", 5*time.Second),
		},
		Board: BoardConfig{
			Dim: getEnvAsIntOrDefault("BOARD_DIM", 32),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Board.Dim < 1 {
		return fmt.Errorf("board dimension must be positive, got %d", c.Board.Dim)
	}
	if c.Server.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown grace must be positive, got %s", c.Server.ShutdownGrace)
	}
	return nil
}

// ServerAddress is the host:port the server listens on.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
