// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives one streaming exchange at a time on top of the
// conversation store.
//
// The Orchestrator encodes the user's input, appends the user message and an
// empty assistant placeholder, opens a watchdog-guarded gateway session and
// folds every delta into the placeholder. Terminal outcomes decide what the
// placeholder ends up holding:
//
//	completed         content as streamed, plus token usage
//	no content        "No response received from the model." (error)
//	timeout           "Response timed out. Please try again." (error)
//	payment required  gateway detail text (error), paywall raised
//	aborted           partial content kept
//
// Deltas from a session that is no longer current are dropped.
package chat
