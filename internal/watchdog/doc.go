// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watchdog bounds the silence between stream deltas.
//
// Guard wraps one streaming session: the timer is armed when the session
// starts and re-armed from zero on every delta. If the window passes without
// a delta the session is cancelled and ErrTimeout is delivered through the
// caller's OnError. The timer is cleared on every exit path.
package watchdog
