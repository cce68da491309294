// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway is the HTTP client for the model-routing gateway.
//
// It covers two surfaces of the same service:
//
//   - Streaming chat: StartSession posts the conversation history and decodes
//     the Server-Sent Events response into typed Deltas delivered through
//     Handlers. A Session can be cancelled at any time; a cancelled session
//     delivers no further callbacks.
//   - Conversation CRUD: create, list, fetch, rename and delete the
//     server-side conversation records.
//
// # Error Handling
//
// Non-2xx responses map to sentinel errors (ErrAuthFailed,
// ErrInsufficientCredits, ErrRateLimited, ...) wrapped with the server's
// message, or to *APIError. Use IsPaymentRequired to detect the paywall case
// and ErrorDetail to get text suitable for display.
//
// # Usage
//
//	c := gateway.New(gateway.Options{BaseURL: url, Session: sess})
//	s := c.StartSession(ctx, history, gateway.Handlers{
//	    OnChunk: func(d gateway.Delta) { ... },
//	    OnDone:  func(u *model.Usage) { ... },
//	    OnError: func(err error) { ... },
//	})
//	defer s.Cancel()
package gateway
