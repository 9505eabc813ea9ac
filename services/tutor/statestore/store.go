// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// keyPrefix namespaces conversation entries within the shared cache.
const keyPrefix = "elenchus:conv:"

// Store persists structured documents with a TTL in the cache backend.
//
// # Description
//
// Values are stored as JSON. Timestamps, top-level or nested inside
// sequences and records, travel in the canonical RFC3339 text form, so
// a value round-trips the store losslessly in every field (trailing-zero
// nanosecond digits excepted). Absence after expiry is indistinguishable
// from a key that was never written.
//
// # Thread Safety
//
// Safe for concurrent use. Note that concurrent read/modify/write cycles
// against the same key are last-writer-wins; callers needing turn-level
// atomicity must serialize above the store.
type Store struct {
	backend Backend
}

// New creates a store on the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) storageKey(key string) string {
	return keyPrefix + key
}

// Put writes value under key with the given TTL, replacing any existing
// entry and restarting its TTL.
//
// # Inputs
//
//   - key: Cache key, without namespace prefix.
//   - value: Any JSON-marshalable value. Map documents pass through
//     EncodeTimestamps so time.Time values take the canonical form;
//     typed structs encode their time.Time fields the same way.
//   - ttl: Entry lifetime. Non-positive stores without expiry.
func (s *Store) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := marshalDocument(value)
	if err != nil {
		return fmt.Errorf("serialize state for %q: %w", key, err)
	}
	if err := s.backend.Set(ctx, s.storageKey(key), data, ttl); err != nil {
		return err
	}
	slog.Debug("Stored ephemeral state", "key", key, "ttl", ttl, "bytes", len(data))
	return nil
}

// Get reads the entry for key into dest.
//
// # Outputs
//
//   - bool: False when the key is absent or expired; dest is untouched.
//   - error: Non-nil only for backend or decode failures.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, s.storageKey(key))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("deserialize state for %q: %w", key, err)
	}
	return true, nil
}

// GetDocument reads the entry for key as a generic document with
// canonical timestamp strings parsed back into time.Time values.
func (s *Store) GetDocument(ctx context.Context, key string) (map[string]any, bool, error) {
	raw, ok, err := s.backend.Get(ctx, s.storageKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("deserialize state for %q: %w", key, err)
	}
	return DecodeTimestamps(doc).(map[string]any), true, nil
}

// Update merges partial into the existing entry, keeping the remaining
// TTL.
//
// # Description
//
// Top-level fields of partial replace the stored fields of the same
// name. The entry's remaining TTL is re-applied, so a merge never
// extends a session's life. Returns false without writing when the key
// is absent or its TTL has already lapsed.
func (s *Store) Update(ctx context.Context, key string, partial map[string]any) (bool, error) {
	storageKey := s.storageKey(key)

	remaining, ok, err := s.backend.TTL(ctx, storageKey)
	if err != nil || !ok {
		return false, err
	}
	raw, ok, err := s.backend.Get(ctx, storageKey)
	if err != nil || !ok {
		// Expired between the TTL probe and the read.
		return false, err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("deserialize state for %q: %w", key, err)
	}
	merged := EncodeTimestamps(partial).(map[string]any)
	for k, v := range merged {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("serialize merged state for %q: %w", key, err)
	}
	if err := s.backend.Set(ctx, storageKey, data, remaining); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the entry for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.storageKey(key))
}

// ExtendTTL rewrites the entry with a fresh TTL.
//
// Used to move a session from the default lifetime to the longer
// learning-mode lifetime. Returns false when the key is absent or
// already expired.
func (s *Store) ExtendTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	storageKey := s.storageKey(key)

	raw, ok, err := s.backend.Get(ctx, storageKey)
	if err != nil || !ok {
		return false, err
	}
	if err := s.backend.Set(ctx, storageKey, raw, ttl); err != nil {
		return false, err
	}
	slog.Debug("Extended ephemeral state TTL", "key", key, "ttl", ttl)
	return true, nil
}

// marshalDocument serializes a document, routing generic maps through
// the canonical timestamp encoder first.
func marshalDocument(value any) ([]byte, error) {
	if doc, ok := value.(map[string]any); ok {
		return json.Marshal(EncodeTimestamps(doc))
	}
	return json.Marshal(value)
}
