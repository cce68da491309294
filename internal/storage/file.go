// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// fileFormatVersion is bumped when the document layout changes. Documents
// with another version are ignored.
const fileFormatVersion = 1

type fileDocument struct {
	Version       int                      `json:"version"`
	SavedAt       time.Time                `json:"saved_at"`
	Conversations []model.ConversationMeta `json:"conversations"`
}

// FileCache keeps the metadata list in a single JSON file.
type FileCache struct {
	mu   sync.Mutex
	path string
}

// NewFileCache creates a cache backed by path. The file is created on the
// first Save.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the backing file path.
func (c *FileCache) Path() string {
	return c.path
}

// Load reads the cached list. A missing file yields an empty list.
func (c *FileCache) Load() ([]model.ConversationMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse cache: %w", err)
	}
	if doc.Version != fileFormatVersion {
		return nil, nil
	}
	return doc.Conversations, nil
}

// Save replaces the cached list.
func (c *FileCache) Save(metas []model.ConversationMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if metas == nil {
		metas = []model.ConversationMeta{}
	}
	data, err := json.MarshalIndent(fileDocument{
		Version:       fileFormatVersion,
		SavedAt:       time.Now().UTC(),
		Conversations: metas,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	// RELIABILITY: Atomic write prevents a torn cache on crash.
	return util.AtomicWriteFile(c.path, data, 0600)
}

// Clear removes the cache file.
func (c *FileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache: %w", err)
	}
	return nil
}

// Close is a no-op.
func (c *FileCache) Close() error {
	return nil
}
