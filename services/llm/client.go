// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// JSONMode constrains the model to emit a single JSON object.
	// The tutoring loop relies on this for judgment responses.
	JSONMode bool `json:"json_mode"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// NewClient builds the client for the named provider.
//
// # Inputs
//
//   - provider: "openai", "ollama", or "claude". Credentials and
//     endpoints come from the environment (see the provider
//     constructors).
func NewClient(provider string) (LLMClient, error) {
	switch provider {
	case "openai":
		return NewOpenAIClient()
	case "ollama":
		return NewOllamaClient()
	case "claude":
		return NewAnthropicClient()
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (want openai, ollama, or claude)", provider)
	}
}
