// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Cache drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// MetaCache stores the ordered conversation metadata list.
type MetaCache interface {
	Load() ([]model.ConversationMeta, error)
	Save(metas []model.ConversationMeta) error
	Clear() error
	Close() error
}

// Open returns the cache for driver at path. A leading "~/" in path is
// expanded to the home directory.
func Open(driver, path string) (MetaCache, error) {
	if driver == DriverNone {
		return NopCache{}, nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	switch driver {
	case "", DriverFile:
		return NewFileCache(expanded), nil
	case DriverSQLite:
		return OpenSQLite(expanded)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", driver)
	}
}

func expandHome(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("cache path is empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

// NopCache discards everything.
type NopCache struct{}

func (NopCache) Load() ([]model.ConversationMeta, error) { return nil, nil }
func (NopCache) Save([]model.ConversationMeta) error     { return nil }
func (NopCache) Clear() error                            { return nil }
func (NopCache) Close() error                            { return nil }
