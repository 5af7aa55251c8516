// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config carries every runtime setting for the service and its CLIs.
type Config struct {
	DBPath           string `env:"LEARNER_DB_PATH" envDefault:"learner_state.db"`
	HTTPAddr         string `env:"LEARNER_HTTP_ADDR" envDefault:":8080"`
	PolicyPath       string `env:"LEARNER_POLICY_PATH"`
	LogMode          string `env:"LEARNER_LOG_MODE" envDefault:"development"`
	ApplyMaxAttempts int    `env:"LEARNER_APPLY_MAX_ATTEMPTS" envDefault:"3"`
}

// Load parses the configuration from process environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
