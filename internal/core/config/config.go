// Package config provides configuration management for wayfinder services.
package config

import (
	"fmt"
	"strings"
)

// Config holds configuration for the rule-set store and resolver.
type Config struct {
	DatabaseURL    string
	PartitionsFile string
	ListLimit      int
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DatabaseURL:    "sqlite://wayfinder.db",
		PartitionsFile: "",
		ListLimit:      100,
	}
}

// validateConfig checks the database URL scheme and positive limits.
func validateConfig(cfg *Config) error {
	if !strings.HasPrefix(cfg.DatabaseURL, "sqlite://") && !strings.HasPrefix(cfg.DatabaseURL, "postgres://") {
		return fmt.Errorf("database_url must use sqlite:// or postgres://, got %q", cfg.DatabaseURL)
	}
	if cfg.ListLimit <= 0 {
		return fmt.Errorf("list_limit must be positive, got %d", cfg.ListLimit)
	}
	return nil
}
