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

import "time"

// timestampLayout is the canonical text form for timestamps in cached
// documents. RFC3339 with nanoseconds round-trips time.Time losslessly
// (trailing zero digits excepted) and stays readable in cache dumps.
const timestampLayout = time.RFC3339Nano

// EncodeTimestamps returns a copy of v with every time.Time value,
// however deeply nested under maps and sequences, replaced by its
// canonical text form.
//
// # Description
//
// Cached documents are JSON, and partial updates merge as generic maps,
// so timestamps must have a single canonical wire representation no
// matter which path wrote them. Values other than maps, slices, and
// time.Time pass through unchanged.
func EncodeTimestamps(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(timestampLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.Format(timestampLayout)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = EncodeTimestamps(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = EncodeTimestamps(item)
		}
		return out
	default:
		return v
	}
}

// DecodeTimestamps returns a copy of v with every string in the
// canonical timestamp form, however deeply nested, parsed back into a
// time.Time. Strings that do not parse are left alone.
func DecodeTimestamps(v any) any {
	switch val := v.(type) {
	case string:
		if ts, err := time.Parse(timestampLayout, val); err == nil {
			return ts
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DecodeTimestamps(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DecodeTimestamps(item)
		}
		return out
	default:
		return v
	}
}
