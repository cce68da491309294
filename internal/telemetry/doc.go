// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics and token usage accounting.
//
// # Key Types
//
//   - Metrics: counters and histograms for streams and remote sync
//   - UsageTracker: per-conversation token totals for the running process
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.NewMetrics(reg)
//	m.SessionFinished(telemetry.OutcomeCompleted)
//	http.Handle("/metrics", telemetry.Handler(reg))
package telemetry
