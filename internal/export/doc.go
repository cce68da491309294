// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations to files.
//
// # Supported Formats
//
//   - JSON: Machine-readable with full message data
//   - Markdown: Human-readable with YAML frontmatter
//
// # Usage
//
//	exporter, err := export.ForFormat("md", opts)
//	path, err := export.ExportToFile(conv, exporter, opts)
package export
