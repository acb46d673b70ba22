// Package config defines retry configuration.
package config

import (
	"time"
)

// RetryConfig holds retry configuration for LLM calls and job reprocessing.
type RetryConfig struct {
	MaxRetries   int           `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	InitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"2s"`
	MaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	Multiplier   float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
	Jitter       bool          `env:"RETRY_JITTER" envDefault:"true"`
}

// GetRetryConfig returns the retry configuration.
func (c Config) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   c.RetryMaxRetries,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       c.RetryJitter,
	}
}
