package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_And_AdminEnabled(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD", "secret")
	t.Setenv("ADMIN_SESSION_SECRET", "abcd")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if !cfg.AdminEnabled() {
		t.Fatalf("expected AdminEnabled true")
	}
	if !cfg.IsDev() {
		t.Fatalf("expected IsDev true")
	}
	if cfg.IsProd() {
		t.Fatalf("expected IsProd false")
	}

	require.NoError(t, os.Unsetenv("ADMIN_USERNAME"))
	require.NoError(t, os.Unsetenv("ADMIN_PASSWORD"))
	require.NoError(t, os.Unsetenv("ADMIN_SESSION_SECRET"))
	cfg, err = Load()
	if err != nil {
		t.Fatalf("reload err: %v", err)
	}
	if cfg.AdminEnabled() {
		t.Fatalf("expected AdminEnabled false")
	}
}

func Test_Load_AppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "llama-3.3-70b-versatile", cfg.GroqModel)
	require.Equal(t, 5, cfg.DefaultMaxIterations)
	require.Equal(t, float64(70), cfg.DefaultQAScoreThreshold)
}

func Test_IsTest(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsTest())
	require.False(t, cfg.IsDev())
}

func Test_GetAIBackoffConfig_UsesFastValuesInTestEnv(t *testing.T) {
	cfg := Config{AppEnv: "test", AIBackoffMaxElapsedTime: time.Hour}
	maxElapsed, initial, maxInterval, mult := cfg.GetAIBackoffConfig()
	require.Equal(t, 5*time.Second, maxElapsed)
	require.Equal(t, 100*time.Millisecond, initial)
	require.Equal(t, time.Second, maxInterval)
	require.Equal(t, 2.0, mult)
}

func Test_GetAIBackoffConfig_UsesConfiguredValuesOutsideTestEnv(t *testing.T) {
	cfg := Config{
		AppEnv:                   "prod",
		AIBackoffMaxElapsedTime:  90 * time.Second,
		AIBackoffInitialInterval: time.Second,
		AIBackoffMaxInterval:     10 * time.Second,
		AIBackoffMultiplier:      1.8,
	}
	maxElapsed, initial, maxInterval, mult := cfg.GetAIBackoffConfig()
	require.Equal(t, 90*time.Second, maxElapsed)
	require.Equal(t, time.Second, initial)
	require.Equal(t, 10*time.Second, maxInterval)
	require.Equal(t, 1.8, mult)
}

func Test_JobTimeout_ConvertsMinutesToDuration(t *testing.T) {
	cfg := Config{JobTimeoutMinutes: 45}
	require.Equal(t, 45*time.Minute, cfg.JobTimeout())
}

func Test_GetRetryConfig_CopiesFieldsFromConfig(t *testing.T) {
	cfg := Config{RetryMaxRetries: 4, RetryInitialDelay: time.Second, RetryMaxDelay: 20 * time.Second, RetryMultiplier: 1.7, RetryJitter: false}
	rc := cfg.GetRetryConfig()
	require.Equal(t, 4, rc.MaxRetries)
	require.Equal(t, time.Second, rc.InitialDelay)
	require.Equal(t, 20*time.Second, rc.MaxDelay)
	require.Equal(t, 1.7, rc.Multiplier)
	require.False(t, rc.Jitter)
}
