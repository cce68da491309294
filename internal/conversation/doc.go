// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation keeps the in-memory conversation list and the active
// selection, synchronized with the remote conversation service.
//
// The Store applies every change locally first and pushes title updates and
// deletes to the remote in the background. Failed remote writes are logged
// and counted; they are never rolled back. Snapshots returned by the read
// side are copies and may be used without holding any lock.
//
// Conversations minted while the remote is unreachable carry a "local-"
// id prefix and never issue remote calls.
package conversation
