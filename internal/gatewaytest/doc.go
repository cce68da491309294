// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gatewaytest provides an in-memory fake of the model gateway.
//
// The fake serves scripted Server-Sent Event streams on /chat/completions and
// an in-memory conversation service on /conversations, with failure
// injection per operation. Tests start it with NewServer; the CLI serves it
// with Handler for local development.
//
//	fake, srv := gatewaytest.NewServer(t)
//	fake.EnqueueStream(gatewaytest.Script{Events: gatewaytest.ContentEvents("Hi", " there")})
//	client := gateway.New(gateway.Options{BaseURL: srv.URL})
package gatewaytest
