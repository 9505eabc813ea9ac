// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statestore holds ephemeral, TTL-bounded conversation state for
// active tutoring sessions.
//
// State lives outside process memory so that two requests for the same
// session, landing on different replicas, observe the same conversation.
// An entry that expired is indistinguishable from one that was never
// written; callers treat both as "no state, reinitialize".
package statestore

import (
	"context"
	"time"
)

// Backend is the raw TTL key-value primitive the store is built on.
//
// # Description
//
// Matches the contract of a remote cache: string keys, byte values,
// set-with-ttl, and ttl-remaining. BadgerBackend is the shipped
// implementation; tests use an in-memory fake with a controllable clock.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key. The second result is false when the
	// key is absent or expired; that case is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes value under key with the given time-to-live.
	// A non-positive ttl stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error

	// TTL reports the remaining time-to-live for key. The second result
	// is false when the key is absent or expired.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Close releases backend resources.
	Close() error
}
