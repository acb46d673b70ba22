// Package retry provides exponential-backoff retry helpers for outbound
// calls that may fail transiently (LLM providers, research data sources).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures an exponential backoff policy.
type Config struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// NewExponentialBackOff builds a *backoff.ExponentialBackOff from Config,
// wrapped with the supplied context so callers can cancel mid-retry.
func (c Config) NewExponentialBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialInterval
	eb.MaxInterval = c.MaxInterval
	eb.Multiplier = c.Multiplier
	eb.MaxElapsedTime = c.MaxElapsedTime
	return backoff.WithContext(eb, ctx)
}

// Permanent wraps an error so that Do stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op with exponential backoff according to cfg, stopping early if
// ctx is cancelled or op returns an error wrapped with Permanent.
func Do(ctx context.Context, cfg Config, op func() error) error {
	err := backoff.Retry(op, cfg.NewExponentialBackOff(ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Unwrap()
		}
	}
	return err
}
