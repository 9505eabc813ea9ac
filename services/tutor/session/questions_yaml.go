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

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// topicFile is the on-disk shape of one topic's question bank.
type topicFile struct {
	Topic     string     `yaml:"topic"`
	Questions []Question `yaml:"questions"`
}

// YAMLQuestionSource serves question banks from per-topic YAML files,
// one file per topic at <dir>/<topicID>.yaml. Used in lightweight
// deployments that run without a document store.
//
// Files are parsed once and cached; edit-and-reload requires a restart.
type YAMLQuestionSource struct {
	dir string

	mu    sync.RWMutex
	cache map[string][]Question
}

// NewYAMLQuestionSource creates a source rooted at dir.
func NewYAMLQuestionSource(dir string) (*YAMLQuestionSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("question bank directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("question bank path %s is not a directory", dir)
	}
	return &YAMLQuestionSource{
		dir:   dir,
		cache: make(map[string][]Question),
	}, nil
}

// ListQuestions implements QuestionSource. An unknown topic yields an
// explicit empty result, not an error.
func (s *YAMLQuestionSource) ListQuestions(ctx context.Context, topicID string) ([]Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(topicID, `/\.`) {
		return nil, fmt.Errorf("invalid topic id %q", topicID)
	}

	s.mu.RLock()
	cached, ok := s.cache[topicID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, topicID+".yaml"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read question bank for topic %q: %w", topicID, err)
	}

	var file topicFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question bank for topic %q: %w", topicID, err)
	}
	for i, q := range file.Questions {
		if q.ID == "" || q.Text == "" {
			return nil, fmt.Errorf("question %d in topic %q is missing id or text", i, topicID)
		}
	}

	s.mu.Lock()
	s.cache[topicID] = file.Questions
	s.mu.Unlock()
	return file.Questions, nil
}
