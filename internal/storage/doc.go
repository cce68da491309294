// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the conversation metadata cache.
//
// The cache holds only the {id, title, timestamps} projection so that a cold
// start can show the conversation list before the remote service answers.
// It is advisory: the remote service stays the source of truth.
//
// # Drivers
//
//   - file: one JSON document written atomically (default)
//   - sqlite: a table in a local SQLite database (modernc.org/sqlite)
//   - none: nothing is persisted
//
// # Usage
//
//	cache, err := storage.Open(storage.DriverFile, "~/.rigrun-chat/cache/conversations.json")
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
package storage
