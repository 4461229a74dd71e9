package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Timing struct {
		MatchLengthSeconds   int `yaml:"match_length_seconds"`
		SessionLengthSeconds int `yaml:"session_length_seconds"`
	} `yaml:"timing"`
}

func (c *Config) MatchLength() time.Duration {
	if c.Timing.MatchLengthSeconds <= 0 {
		return 150 * time.Second
	}
	return time.Duration(c.Timing.MatchLengthSeconds) * time.Second
}

func (c *Config) SessionLength() time.Duration {
	if c.Timing.SessionLengthSeconds <= 0 {
		return 1800 * time.Second
	}
	return time.Duration(c.Timing.SessionLengthSeconds) * time.Second
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// URL renders a connection string with the given scheme. pgxpool wants
// postgres://, the migration runner wants pgx5://.
func (c DatabaseConfig) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults are fine when no config file is present.
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}
