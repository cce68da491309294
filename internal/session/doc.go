// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the authenticated gateway session.
//
// A Session is created once at startup from configured credentials and passed
// explicitly to the components that call the gateway. Closing it makes every
// later Token call fail, which stops further remote traffic. An optional idle
// timeout expires the session after a period without activity.
//
// # Usage
//
//	sess := session.New(session.Config{Token: cfg.Gateway.Token})
//	defer sess.Close()
//
//	token, err := sess.Token() // records activity
package session
