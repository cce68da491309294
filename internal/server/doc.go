// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server hosts rigrun-chat's local HTTP endpoints.
//
// The same server backs two surfaces: the Prometheus scrape endpoint enabled
// with metrics.enabled, and the in-memory gateway started by the
// fake-gateway command.
//
// # Endpoints
//
//   - GET /healthz  - Liveness and uptime
//   - GET /metrics  - Prometheus exposition (when mounted)
//
// # Middleware
//
//   - Panic recovery with stack trace logging
//   - Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
//   - Request logging through slog
//   - Optional loopback-only access
//
// # Usage
//
//	srv := server.New(server.Config{Addr: "127.0.0.1:9464", LoopbackOnly: true})
//	srv.Handle(http.MethodGet, "/metrics", telemetry.Handler(reg))
//	addr, err := srv.Start()
//	...
//	srv.Shutdown(ctx)
package server
