// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the cache and store layers.
//
//   - AtomicWriteFile: crash-safe file replacement with fsync
//   - Summarize: single-line, rune-safe preview of free text
package util
