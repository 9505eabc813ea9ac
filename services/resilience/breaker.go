// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience protects calls to slow or unreliable dependencies
// (LLM backends, the vector store, the ephemeral cache) with circuit
// breakers and bounded exponential-backoff retries.
//
// The two mechanisms compose explicitly at the call site:
//
//	err := retry.Execute(ctx, func(ctx context.Context) error {
//	    return breaker.Call(ctx, func(ctx context.Context) error {
//	        return actualOperation(ctx)
//	    })
//	})
//
// keeping the wrapping order visible and testable.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
//
// # States
//
//   - Closed: Normal operation, requests flow through
//   - Open: Circuit tripped, requests are rejected immediately
//   - HalfOpen: Testing if service recovered, limited requests allowed
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[success]◄── HALF_OPEN ◄──┘
//	                    [timeout]
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the circuit has tripped and requests are rejected.
	CircuitOpen

	// CircuitHalfOpen means we're testing if the service has recovered.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// CircuitOpenError is returned when a call is rejected because the
// breaker is open. The wrapped operation was never invoked.
type CircuitOpenError struct {
	// Name of the breaker that rejected the call.
	Name string

	// RetryAfter is the configured recovery timeout, a hint for callers
	// surfacing a "temporarily unavailable" response.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// historyCapacity bounds the per-breaker call record ring buffer.
// The history exists for observability only; it never feeds transitions.
const historyCapacity = 100

// callRecord is one entry in the breaker's call history.
type callRecord struct {
	start    time.Time
	duration time.Duration
	failed   bool
	rejected bool
}

// BreakerConfig configures circuit breaker behavior.
//
// # Description
//
// Controls how the circuit breaker responds to failures and recovers.
//
// # Example
//
//	config := BreakerConfig{
//	    FailureThreshold: 5,                // Open after 5 consecutive failures
//	    SuccessThreshold: 2,                // Close after 2 consecutive successes
//	    RecoveryTimeout:  30*time.Second,   // Stay open for 30s
//	    CallTimeout:      60*time.Second,   // Bound each dispatched call
//	}
type BreakerConfig struct {
	// FailureThreshold is consecutive monitored failures before opening.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	// Default: 2
	SuccessThreshold int

	// RecoveryTimeout is how long to stay open before trying half-open.
	// The transition is lazy: it happens on the next call attempt, not
	// on a background timer. Default: 30 seconds
	RecoveryTimeout time.Duration

	// CallTimeout bounds each dispatched call via context deadline.
	// Zero disables the per-call deadline.
	CallTimeout time.Duration

	// IsFailure classifies which errors count against the breaker.
	// Errors for which IsFailure returns false propagate to the caller
	// without touching failure accounting. Nil counts every error.
	IsFailure func(error) bool

	// OnStateChange is called when state transitions.
	// Called asynchronously to avoid blocking.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one named
// dependency.
//
// # Description
//
// Prevents cascading failures by stopping requests to a failing service.
// After a timeout, allows limited requests to test if the service recovered.
// All call sites sharing a dependency name should share one instance (use
// a Registry) so failure accounting is shared too.
//
// # Thread Safety
//
// CircuitBreaker is safe for concurrent use. All counters and the state
// transition check live under a single mutex so a racing goroutine cannot
// read OPEN and have it flip mid-decision.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	rejected    int64
	lastFailure time.Time
	lastSuccess time.Time
	history     []callRecord
	histNext    int

	// nowFn is swapped in tests to control recovery timing.
	nowFn func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
//
// # Inputs
//
//   - name: Dependency name, used in errors, logs, and status reporting
//   - config: Configuration; zero values are replaced with defaults
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		name:    name,
		config:  config,
		state:   CircuitClosed,
		history: make([]callRecord, 0, historyCapacity),
		nowFn:   time.Now,
	}
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Call executes fn if the circuit allows it.
//
// # Description
//
// Re-evaluates the breaker state, rejects with *CircuitOpenError when the
// circuit is open (without invoking fn at all), otherwise dispatches fn
// under the configured call timeout and records the outcome. Monitored
// failures are re-returned unchanged after bookkeeping; errors outside the
// monitored set propagate without affecting breaker state.
//
// # Inputs
//
//   - ctx: Caller context; a caller-side deadline aborts the call chain
//   - fn: The operation to execute
//
// # Outputs
//
//   - error: *CircuitOpenError if the circuit is open, or the error from fn
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return &CircuitOpenError{Name: cb.name, RetryAfter: cb.config.RecoveryTimeout}
	}

	if cb.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.CallTimeout)
		defer cancel()
	}

	start := cb.nowFn()
	err := fn(ctx)
	cb.recordResult(start, err)
	return err
}

// allowRequest checks if a request should be allowed, lazily moving
// OPEN to HALF_OPEN once the recovery timeout has elapsed. Rejections
// are counted and recorded in the call history.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if cb.nowFn().Sub(cb.lastFailure) > cb.config.RecoveryTimeout {
			cb.successes = 0
			cb.transitionTo(CircuitHalfOpen)
			return true
		}
		cb.rejected++
		cb.appendHistory(callRecord{start: cb.nowFn(), rejected: true})
		return false

	case CircuitHalfOpen:
		return true

	default:
		return false
	}
}

// recordResult records the outcome of a dispatched operation.
func (cb *CircuitBreaker) recordResult(start time.Time, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	monitored := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))
	cb.appendHistory(callRecord{
		start:    start,
		duration: cb.nowFn().Sub(start),
		failed:   monitored,
	})

	if err == nil {
		cb.recordSuccess()
		return
	}
	if monitored {
		cb.recordFailure()
	}
	// Unmonitored errors leave the breaker untouched.
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = cb.nowFn()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while probing goes straight back to open.
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.successes++
	cb.lastSuccess = cb.nowFn()

	switch cb.state {
	case CircuitClosed:
		// A single success fully forgives prior failures.
		cb.failures = 0
	case CircuitHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.transitionTo(CircuitClosed)
		}
	}
}

// appendHistory adds a record to the bounded ring buffer. Caller holds cb.mu.
func (cb *CircuitBreaker) appendHistory(rec callRecord) {
	if len(cb.history) < historyCapacity {
		cb.history = append(cb.history, rec)
		return
	}
	cb.history[cb.histNext] = rec
	cb.histNext = (cb.histNext + 1) % historyCapacity
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}

	old := cb.state
	cb.state = state

	if cb.config.OnStateChange != nil {
		// Call callback without holding lock to prevent deadlocks.
		go cb.config.OnStateChange(cb.name, old, state)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive monitored failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// ForceOpen trips the circuit regardless of failure counts.
//
// Operational override: use to fence off a dependency known to be down
// before the breaker would discover it on its own. lastFailure is stamped
// so the recovery timeout restarts from now.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = cb.nowFn()
	cb.transitionTo(CircuitOpen)
}

// ForceClosed closes the circuit regardless of recent failures, keeping
// the counters as they are. Unlike Reset this does not forgive anything;
// the next monitored failure may trip the breaker again immediately.
func (cb *CircuitBreaker) ForceClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(CircuitClosed)
}

// Reset forces the circuit to its initial closed state.
//
// # Description
//
// Clears all failure and success counts. Use when you know the service
// has been fixed externally.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	old := cb.state
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0

	if old != CircuitClosed && cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, old, CircuitClosed)
	}
}

// BreakerStatus is a read-only snapshot of one breaker, shaped for
// operational dashboards.
type BreakerStatus struct {
	Name                     string       `json:"name"`
	State                    string       `json:"state"`
	FailureCount             int          `json:"failure_count"`
	SuccessCount             int          `json:"success_count"`
	RejectedCount            int64        `json:"rejected_count"`
	RecentFailureRatePercent int          `json:"recent_failure_rate_percent"`
	LastFailureTime          time.Time    `json:"last_failure_time,omitzero"`
	LastSuccessTime          time.Time    `json:"last_success_time,omitzero"`
}

// Status returns a point-in-time snapshot of the breaker.
//
// The failure rate is computed over the bounded call history (rejected
// calls excluded), so it reflects recent behavior rather than lifetime
// totals.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	dispatched, failed := 0, 0
	for _, rec := range cb.history {
		if rec.rejected {
			continue
		}
		dispatched++
		if rec.failed {
			failed++
		}
	}
	rate := 0
	if dispatched > 0 {
		rate = failed * 100 / dispatched
	}

	return BreakerStatus{
		Name:                     cb.name,
		State:                    cb.state.String(),
		FailureCount:             cb.failures,
		SuccessCount:             cb.successes,
		RejectedCount:            cb.rejected,
		RecentFailureRatePercent: rate,
		LastFailureTime:          cb.lastFailure,
		LastSuccessTime:          cb.lastSuccess,
	}
}
