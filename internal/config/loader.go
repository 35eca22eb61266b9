// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in send_at comparisons.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envconfig uses an empty prefix; variable names are spelled out fully in
// struct tags to keep them greppable.
const envPrefix = ""

// LoadConfig loads and validates the dripline configuration from the
// environment. Callers should treat any returned error as fatal.
func LoadConfig() (*Config, error) {
	// Step 1: All timestamps in the schedule table are UTC; pinning the
	// process timezone keeps time.Now() comparisons honest.
	time.Local = time.UTC

	// Step 2: .env is a local development convenience only.
	_ = godotenv.Load()

	// Step 3: Populate from environment.
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: processing environment: %w", err)
	}

	// Step 4: Validate.
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct-tag validation plus cross-field checks that tags
// cannot express.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}

	if cfg.Email.RetryBackoffBase > cfg.Email.RetryBackoffMax {
		return fmt.Errorf("config: EMAIL_RETRY_BACKOFF_BASE (%s) exceeds EMAIL_RETRY_BACKOFF_MAX (%s)",
			cfg.Email.RetryBackoffBase, cfg.Email.RetryBackoffMax)
	}

	if cfg.Scheduler.LockTTL <= 0 {
		return fmt.Errorf("config: SCHEDULER_LOCK_TTL must be positive")
	}

	return nil
}
