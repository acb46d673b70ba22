package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxElapsedTime:  50 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientErrorsUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxElapsedTime(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Greater(t, calls, 1)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("do not retry this")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 1.5}, func() error {
		calls++
		cancel()
		return errors.New("keep failing")
	})
	assert.Error(t, err)
}

func TestConfig_NewExponentialBackOff_AppliesFields(t *testing.T) {
	cfg := Config{MaxElapsedTime: time.Second, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 2}
	eb := cfg.NewExponentialBackOff(context.Background())
	assert.Greater(t, eb.NextBackOff(), time.Duration(0))
}
