// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "fmt"

// NoQuestionsAvailableError reports a topic with an empty question bank.
// Not retryable; the user should be guided to pick another topic.
type NoQuestionsAvailableError struct {
	TopicID string
}

func (e *NoQuestionsAvailableError) Error() string {
	return fmt.Sprintf("no questions available for topic %q", e.TopicID)
}

// MalformedModelOutputError reports a model reply that could not be
// parsed into a judgment. Recoverable: the turn degrades to a canned
// apology instead of failing.
type MalformedModelOutputError struct {
	Reason string
	Raw    string
}

func (e *MalformedModelOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %s", e.Reason)
}
