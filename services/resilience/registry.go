// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import "sync"

// Registry manages circuit breakers for multiple dependencies.
//
// # Description
//
// Provides a name-keyed set of circuit breakers, created lazily on first
// use with consistent configuration, so every call site sharing a
// dependency name shares failure accounting. A Registry is an explicit
// value injected into components that issue external calls; tests create
// a fresh one per case instead of resetting shared state.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Two concurrent first-calls for the
// same name observe the same breaker instance.
//
// # Example
//
//	registry := NewRegistry(DefaultBreakerConfig())
//	cb := registry.Get("llm_service")
//	err := cb.Call(ctx, func(ctx context.Context) error { ... })
type Registry struct {
	defaultConfig BreakerConfig
	breakers      map[string]*CircuitBreaker
	mu            sync.RWMutex
}

// NewRegistry creates an empty registry.
//
// # Inputs
//
//   - defaultConfig: Default configuration for lazily created breakers
func NewRegistry(defaultConfig BreakerConfig) *Registry {
	return &Registry{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*CircuitBreaker),
	}
}

// Get returns the circuit breaker for a dependency, creating if needed.
//
// # Inputs
//
//   - name: Dependency name (used as key)
//
// # Outputs
//
//   - *CircuitBreaker: The breaker for this dependency
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = NewCircuitBreaker(name, r.defaultConfig)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig returns a circuit breaker with custom config.
//
// If a breaker already exists under this name it is returned unchanged;
// the config applies only on first creation.
func (r *Registry) GetWithConfig(name string, config BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, exists := r.breakers[name]; exists {
		return cb
	}

	cb := NewCircuitBreaker(name, config)
	r.breakers[name] = cb
	return cb
}

// ResetAll resets every circuit breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Statuses returns a snapshot of every registered breaker, for the
// read-only operational dashboard endpoint.
func (r *Registry) Statuses() []BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]BreakerStatus, 0, len(r.breakers))
	for _, cb := range r.breakers {
		result = append(result, cb.Status())
	}
	return result
}
