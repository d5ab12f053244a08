package errors

import (
	"fmt"
	"sync"
	"time"

	"gata/internal/logging"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

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

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit (default 5)
	SuccessThreshold int           // half-open successes that close it again (default 2)
	Timeout          time.Duration // open period before a trial request (default 30s)
	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(from, to CircuitState, name string)
}

// DefaultCircuitBreakerConfig returns sensible defaults
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling an upstream that keeps failing. Callers ask
// Allow before a request and report the outcome with Mark.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	openedAt    time.Time
	lastChanged time.Time
}

// CircuitBreakerMetrics is a point-in-time view of a breaker.
type CircuitBreakerMetrics struct {
	Name            string
	State           CircuitState
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	LastStateChange time.Time
}

type transition struct {
	from, to CircuitState
}

// NewCircuitBreaker creates a closed breaker. Zero thresholds take defaults.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Timeout < 0 {
		config.Timeout = defaults.Timeout
	}
	return &CircuitBreaker{
		name:        name,
		config:      config,
		logger:      logging.NewComponentLogger("circuit-breaker"),
		now:         time.Now,
		state:       StateClosed,
		lastChanged: time.Now(),
	}
}

// Allow reports whether a request may proceed. An open breaker returns a
// *DegradedError until Timeout has passed, then lets one trial through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var changed *transition
	defer func() { cb.notify(changed) }()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	wait := cb.config.Timeout - cb.now().Sub(cb.openedAt)
	if wait <= 0 {
		changed = cb.moveTo(StateHalfOpen)
		cb.logger.Info("[%s] trial request after %s open", cb.name, cb.config.Timeout)
		return nil
	}
	return NewDegradedError(
		fmt.Errorf("circuit breaker open for %s", cb.name),
		fmt.Sprintf("%s is unavailable after repeated failures; retrying in %v", cb.name, wait.Round(time.Second)),
	)
}

// Mark records the outcome of a request; nil means success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	var changed *transition
	defer func() { cb.notify(changed) }()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				changed = cb.moveTo(StateClosed)
				cb.logger.Info("[%s] upstream recovered", cb.name)
			}
		}
		return
	}

	cb.openedAt = cb.now()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			changed = cb.moveTo(StateOpen)
			cb.logger.Warn("[%s] opened after %d consecutive failures: %v", cb.name, cb.failures, err)
		}
	case StateHalfOpen:
		changed = cb.moveTo(StateOpen)
		cb.logger.Warn("[%s] trial request failed: %v", cb.name, err)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(state CircuitState) *transition {
	from := cb.state
	cb.state = state
	cb.successes = 0
	if state == StateClosed {
		cb.failures = 0
	}
	cb.lastChanged = cb.now()
	return &transition{from: from, to: state}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil || cb.config.OnStateChange == nil {
		return
	}
	cb.config.OnStateChange(t.from, t.to, cb.name)
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failures,
		SuccessCount:    cb.successes,
		LastFailureTime: cb.openedAt,
		LastStateChange: cb.lastChanged,
	}
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changed *transition
	if cb.state != StateClosed {
		changed = cb.moveTo(StateClosed)
	}
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(changed)
}
