package llm

import (
	"sync"
	"time"

	"log/slog"
)

// CircuitState enumerates the three states of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows calls through normally.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen allows a trial call through to probe recovery.
	StateHalfOpen
)

// String renders the circuit state for logging.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks the health of one (provider, model) pair and refuses
// calls for a cooldown window after repeated failures.
type CircuitBreaker struct {
	mu               sync.Mutex
	key              string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	totalRequests    int64
	totalFailures    int64
}

// NewCircuitBreaker creates a breaker keyed on a "provider:model" string.
func NewCircuitBreaker(key string) *CircuitBreaker {
	return &CircuitBreaker{
		key:              key,
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            StateClosed,
	}
}

// ShouldAttempt reports whether a call should be allowed through, advancing
// Open -> HalfOpen once the recovery timeout has elapsed.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			slog.Info("circuit breaker entering half-open", slog.String("key", cb.key))
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess clears failures and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.successCount++
	cb.lastSuccessTime = time.Now()
	cb.failureCount = 0
	if cb.state != StateClosed {
		slog.Info("circuit breaker closing after success", slog.String("key", cb.key), slog.String("previous_state", cb.state.String()))
	}
	cb.state = StateClosed
}

// RecordFailure tallies a failure and opens the breaker once the threshold
// is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
		slog.Warn("circuit breaker opening",
			slog.String("key", cb.key),
			slog.Int("failure_count", cb.failureCount),
			slog.Duration("recovery_timeout", cb.recoveryTimeout))
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerManager hands out one CircuitBreaker per (provider, model).
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates an empty manager.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for provider/model, creating it on first use.
func (m *CircuitBreakerManager) Get(provider, model string) *CircuitBreaker {
	key := provider + ":" + model

	m.mu.RLock()
	cb, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(key)
	m.breakers[key] = cb
	return cb
}

// HealthyProviders returns the provider/model keys that are not currently open.
func (m *CircuitBreakerManager) HealthyProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := make([]string, 0, len(m.breakers))
	for key, cb := range m.breakers {
		if cb.State() != StateOpen {
			healthy = append(healthy, key)
		}
	}
	return healthy
}
