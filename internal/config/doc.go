// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigrun-chat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// dotenv files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - GatewayConfig: Remote chat service endpoint, token and model
//   - ChatConfig: Watchdog window, attachment limit, title length
//   - CacheConfig: Local conversation metadata cache
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_CHAT_*), including those set by .env files
//   - ~/.rigrun-chat/config.toml
//   - ~/.rigrun-chat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	window := cfg.WatchdogWindow()
package config
