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

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock lets tests advance breaker time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func withClock(cb *CircuitBreaker, c *fakeClock) { cb.nowFn = c.Now }

// failNTimes returns an operation that fails its first n invocations and
// counts how often it was actually dispatched.
func failNTimes(n int, calls *int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		*calls++
		if *calls <= n {
			return errBoom
		}
		return nil
	}
}

// TestBreaker_OpensOnThresholdFailures verifies the breaker transitions to
// OPEN exactly on the Nth consecutive monitored failure.
func TestBreaker_OpensOnThresholdFailures(t *testing.T) {
	cb := NewCircuitBreaker("dep", BreakerConfig{FailureThreshold: 3})

	for i := 1; i <= 2; i++ {
		_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
		if cb.State() != CircuitClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i)
		}
	}

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	if cb.State() != CircuitOpen {
		t.Fatalf("breaker state after threshold failures = %v, want OPEN", cb.State())
	}
}

// TestBreaker_RejectsWithoutDispatchWhileOpen verifies that while OPEN and
// before the recovery timeout, every call is rejected without invoking the
// wrapped operation.
func TestBreaker_RejectsWithoutDispatchWhileOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("dep", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	withClock(cb, clock)

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	if cb.State() != CircuitOpen {
		t.Fatalf("breaker should be OPEN, got %v", cb.State())
	}

	calls := 0
	clock.Advance(30 * time.Second) // still inside the recovery window
	for i := 0; i < 5; i++ {
		err := cb.Call(context.Background(), func(ctx context.Context) error {
			calls++
			return nil
		})
		var openErr *CircuitOpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("call %d: err = %v, want CircuitOpenError", i, err)
		}
		if openErr.Name != "dep" {
			t.Errorf("CircuitOpenError.Name = %q, want %q", openErr.Name, "dep")
		}
	}
	if calls != 0 {
		t.Errorf("wrapped operation invoked %d times while open, want 0", calls)
	}
	if got := cb.Status().RejectedCount; got != 5 {
		t.Errorf("rejected count = %d, want 5", got)
	}
}

// TestBreaker_HalfOpenProbeAndReopen verifies the OPEN → HALF_OPEN lazy
// transition after the recovery timeout and the immediate HALF_OPEN → OPEN
// transition on a single probe failure.
func TestBreaker_HalfOpenProbeAndReopen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("dep", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	withClock(cb, clock)

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	clock.Advance(61 * time.Second)

	dispatched := false
	_ = cb.Call(context.Background(), func(ctx context.Context) error {
		dispatched = true
		return errBoom
	})
	if !dispatched {
		t.Fatal("probe call was not dispatched after recovery timeout elapsed")
	}
	if cb.State() != CircuitOpen {
		t.Errorf("single probe failure should reopen breaker, state = %v", cb.State())
	}
}

// TestBreaker_HalfOpenClosesAfterSuccessThreshold verifies that the
// configured number of consecutive probe successes closes the breaker and
// resets the failure count.
func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("dep", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})
	withClock(cb, clock)

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	clock.Advance(2 * time.Minute)

	ok := func(ctx context.Context) error { return nil }
	_ = cb.Call(context.Background(), ok)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state after first probe success = %v, want HALF_OPEN", cb.State())
	}
	_ = cb.Call(context.Background(), ok)
	if cb.State() != CircuitClosed {
		t.Fatalf("state after success threshold = %v, want CLOSED", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("failure count after close = %d, want 0", cb.Failures())
	}
}

// TestBreaker_SuccessForgivesFailures verifies that a single success in
// CLOSED resets the failure count entirely.
func TestBreaker_SuccessForgivesFailures(t *testing.T) {
	cb := NewCircuitBreaker("dep", BreakerConfig{FailureThreshold: 3})

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return nil })

	if cb.Failures() != 0 {
		t.Errorf("failure count after success = %d, want 0", cb.Failures())
	}

	// Two more failures must not trip the threshold of three.
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	if cb.State() != CircuitClosed {
		t.Errorf("breaker tripped on stale failure count, state = %v", cb.State())
	}
}

// TestBreaker_UnmonitoredErrorsBypassAccounting verifies errors outside
// the monitored set propagate without affecting breaker state.
func TestBreaker_UnmonitoredErrorsBypassAccounting(t *testing.T) {
	errDomain := errors.New("domain validation failed")
	cb := NewCircuitBreaker("dep", BreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errDomain) },
	})

	err := cb.Call(context.Background(), func(ctx context.Context) error { return errDomain })
	if !errors.Is(err, errDomain) {
		t.Fatalf("unmonitored error not propagated unchanged: %v", err)
	}
	if cb.State() != CircuitClosed || cb.Failures() != 0 {
		t.Errorf("unmonitored error affected breaker: state=%v failures=%d", cb.State(), cb.Failures())
	}
}

// TestBreaker_ForceOperations verifies the operational overrides bypass
// the normal transition rules.
func TestBreaker_ForceOperations(t *testing.T) {
	cb := NewCircuitBreaker("dep", DefaultBreakerConfig())

	cb.ForceOpen()
	if cb.State() != CircuitOpen {
		t.Fatalf("ForceOpen: state = %v", cb.State())
	}
	err := cb.Call(context.Background(), func(ctx context.Context) error { return nil })
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("call after ForceOpen: err = %v, want CircuitOpenError", err)
	}

	cb.ForceClosed()
	if cb.State() != CircuitClosed {
		t.Fatalf("ForceClosed: state = %v", cb.State())
	}

	cb.ForceOpen()
	cb.Reset()
	if cb.State() != CircuitClosed || cb.Failures() != 0 {
		t.Errorf("Reset: state=%v failures=%d", cb.State(), cb.Failures())
	}
}

// TestBreaker_StatusFailureRate verifies the snapshot failure rate is
// computed over dispatched calls only.
func TestBreaker_StatusFailureRate(t *testing.T) {
	cb := NewCircuitBreaker("dep", BreakerConfig{FailureThreshold: 100})

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), func(ctx context.Context) error { return errBoom })
	}
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return nil })

	status := cb.Status()
	if status.RecentFailureRatePercent != 75 {
		t.Errorf("recent failure rate = %d%%, want 75%%", status.RecentFailureRatePercent)
	}
	if status.State != "CLOSED" {
		t.Errorf("status state = %q, want CLOSED", status.State)
	}
}

// TestBreaker_CallTimeoutBoundsOperation verifies the per-call deadline is
// applied to the operation context.
func TestBreaker_CallTimeoutBoundsOperation(t *testing.T) {
	cb := NewCircuitBreaker("dep", BreakerConfig{
		FailureThreshold: 1,
		CallTimeout:      10 * time.Millisecond,
	})

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if cb.State() != CircuitOpen {
		t.Errorf("timeout should count as a monitored failure, state = %v", cb.State())
	}
}
