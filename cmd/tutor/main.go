// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tutor starts the ElenchusLocal tutoring HTTP server.
//
// This is the main entry point for the containerized tutor service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - TUTOR_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama, claude (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate document store URL (optional)
//   - QUESTION_BANK_DIR: per-topic YAML question files (default: ./questions)
//   - CACHE_PATH: session state cache directory (optional, in-memory if unset)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: elenchus-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o tutor ./cmd/tutor
//
//	# Run
//	./tutor
//
//	# Or via container
//	podman-compose up tutor
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/ElenchusAI/ElenchusLocal/services/tutor"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := tutor.Config{
		Port:            getEnvInt("TUTOR_PORT", 12310),
		LLMBackend:      getEnvString("LLM_BACKEND_TYPE", "ollama"),
		WeaviateURL:     os.Getenv("WEAVIATE_SERVICE_URL"),
		QuestionBankDir: getEnvString("QUESTION_BANK_DIR", "./questions"),
		CachePath:       os.Getenv("CACHE_PATH"),
		OTelEndpoint:    getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "elenchus-otel-collector:4317"),
		GinMode:         os.Getenv("GIN_MODE"),
	}

	slog.Info("Starting tutor",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := tutor.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create tutor service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Tutor error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
