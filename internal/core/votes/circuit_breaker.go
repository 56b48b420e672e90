package votes

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// circuitState represents the state of a circuit breaker
type circuitState int

const (
	stateClosed   circuitState = iota // Normal operation
	stateOpen                         // Remote store failing, calls rejected
	stateHalfOpen                     // Letting a trial call through
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker tracks consecutive persistence failures per operation and
// rejects calls for openDuration once failureThreshold is reached.
// A threshold of 0 disables it.
type circuitBreaker struct {
	failures         map[string]int
	lastFailure      map[string]time.Time
	state            map[string]circuitState
	logger           *slog.Logger
	now              func() time.Time
	failureThreshold int
	openDuration     time.Duration
	mu               sync.Mutex
}

func newCircuitBreaker(threshold int, openDuration time.Duration, logger *slog.Logger) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: threshold,
		openDuration:     openDuration,
		failures:         make(map[string]int),
		lastFailure:      make(map[string]time.Time),
		state:            make(map[string]circuitState),
		logger:           logger,
		now:              time.Now,
	}
}

// canAttempt returns nil when op may call the remote store
func (cb *circuitBreaker) canAttempt(op string) error {
	if cb.failureThreshold <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.getState(op) != stateOpen {
		return nil
	}

	lastFail := cb.lastFailure[op]
	if cb.now().Sub(lastFail) > cb.openDuration {
		cb.setState(op, stateHalfOpen)
		return nil
	}

	return fmt.Errorf("circuit breaker open for %s (failures: %d, next retry: %s)",
		op, cb.failures[op], lastFail.Add(cb.openDuration).Format("15:04:05"))
}

// recordSuccess resets the failure count for op
func (cb *circuitBreaker) recordSuccess(op string) {
	if cb.failureThreshold <= 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.failures, op)
	delete(cb.lastFailure, op)
	cb.setState(op, stateClosed)
}

// recordFailure counts a failed call and opens the circuit at the threshold
func (cb *circuitBreaker) recordFailure(op string, err error) {
	if cb.failureThreshold <= 0 {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures[op]++
	cb.lastFailure[op] = cb.now()

	failCount := cb.failures[op]
	if failCount >= cb.failureThreshold || cb.getState(op) == stateHalfOpen {
		cb.setState(op, stateOpen)
		return
	}

	cb.logger.Warn("persistence call failed",
		"operation", op,
		"failures", failCount,
		"threshold", cb.failureThreshold,
		"error", err)
}

// getState returns the current state (must be called with lock held)
func (cb *circuitBreaker) getState(op string) circuitState {
	if state, exists := cb.state[op]; exists {
		return state
	}
	return stateClosed
}

// setState changes state and logs transitions (must be called with lock held)
func (cb *circuitBreaker) setState(op string, next circuitState) {
	prev := cb.getState(op)
	cb.state[op] = next
	if prev != next {
		cb.logger.Warn("persistence circuit changed state",
			"operation", op,
			"from", prev.String(),
			"to", next.String(),
			"failures", cb.failures[op])
	}
}
