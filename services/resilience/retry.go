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
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryExhaustedError is returned when every attempt failed. It wraps
// the terminal cause so callers can distinguish "gave up after N tries"
// from "failed once, non-retryably".
type RetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// RetryPolicy runs an operation with bounded exponential-backoff retry.
//
// # Description
//
// A RetryPolicy is an immutable value object; a fresh retry loop runs per
// Execute call, so one policy can be shared by any number of goroutines.
// Between attempts it sleeps min(BaseDelay * ExponentialBase^(n-1),
// MaxDelay), optionally randomized (full jitter) so many callers retrying
// the same dependency do not synchronize into a thundering herd.
//
// # Example
//
//	policy := RetryPolicy{
//	    MaxAttempts:     3,
//	    BaseDelay:       200 * time.Millisecond,
//	    MaxDelay:        5 * time.Second,
//	    ExponentialBase: 2,
//	    Jitter:          true,
//	}
//	err := policy.Execute(ctx, callLLM)
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the first call.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the sleep before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// ExponentialBase is the backoff multiplier per attempt. Values
	// at or below 1 disable growth.
	ExponentialBase float64

	// Jitter randomizes each sleep uniformly in (0, delay].
	Jitter bool

	// IsRetryable classifies which errors are worth another attempt.
	// Non-retryable errors propagate immediately, unwrapped.
	// Nil retries every error.
	IsRetryable func(error) bool
}

// DefaultRetryPolicy returns the policy used for LLM and store calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Execute runs fn, retrying on retryable errors until the attempt budget
// is exhausted.
//
// # Outputs
//
//   - error: nil on success; the original error when it is not retryable;
//     *RetryExhaustedError wrapping the last error when the budget ran
//     out; ctx.Err() when the caller's context ended during backoff.
func (p RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, attempt); err != nil {
			return err
		}
	}

	return &RetryExhaustedError{Attempts: attempts, Cause: lastErr}
}

// delayFor computes the backoff before attempt n+1 (n is 1-based).
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	base := p.ExponentialBase
	if base < 1 {
		base = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(base, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		// Overflow from a large exponent.
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		d = time.Duration(rand.Int64N(int64(d))) + 1
	}
	return d
}

// sleep waits out the backoff, yielding early if the caller's context
// ends. Suspends on the context rather than blocking a shared worker.
func (p RetryPolicy) sleep(ctx context.Context, attempt int) error {
	d := p.delayFor(attempt)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
