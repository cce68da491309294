// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// State is the per-conversation stream status.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
	StateAborted
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateSending:   "sending",
	StateStreaming: "streaming",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateAborted:   "aborted",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Active reports whether a session is in flight.
func (s State) Active() bool {
	return s == StateSending || s == StateStreaming
}

// EventKind identifies an orchestrator change.
type EventKind int

const (
	// EventState fires on every state transition.
	EventState EventKind = iota
	// EventPaywall fires when the paywall flag changes.
	EventPaywall
)

// Event is a change notification.
type Event struct {
	Kind           EventKind
	ConversationID string
	State          State
}
