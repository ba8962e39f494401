package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// Config holds the migrator settings, sourced from the environment.
type Config struct {
	DatabaseURL    string
	MigrationsPath string
	MigrationTable string
}

// LoadConfig reads configuration from environment variables.
// SERIESD_DATABASE_URL takes precedence; the bare DATABASE_URL is accepted so
// the tool also works in environments that only provide the conventional name.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    getEnvOrDefault("SERIESD_DATABASE_URL", getEnvOrDefault("DATABASE_URL", "")),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "./migrations"),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and resolves the migrations path.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("SERIESD_DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	if c.MigrationsPath == "" {
		return fmt.Errorf("MIGRATIONS_PATH cannot be empty")
	}

	absPath, err := filepath.Abs(c.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	c.MigrationsPath = absPath

	if _, err := os.Stat(c.MigrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", c.MigrationsPath)
	}

	return nil
}

// String renders the configuration with any database password redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationsPath: %s, MigrationTable: %s}",
		redactDatabaseURL(c.DatabaseURL), c.MigrationsPath, c.MigrationTable)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// redactDatabaseURL strips the password from a connection URL before logging.
// Strings that do not parse as URLs are returned unchanged rather than
// guessed at.
func redactDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
