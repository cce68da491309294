// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the domain types shared by the gateway client, the
// conversation store and the chat orchestrator.
//
// # Key Types
//
//   - Conversation: ordered messages plus metadata and a Loaded flag
//   - ConversationMeta: the lightweight projection used for listing and caching
//   - Message: a single user or assistant turn
//   - Content: either a plain string or an ordered list of ContentBlocks
//   - MessagePatch: a merge-semantics partial update for the last message
//
// # Usage
//
//	msg := model.NewUserMessage(model.TextContent("Hello"))
//	conv := model.NewConversation("c1")
//	conv.Append(*msg)
//
//	model.MessagePatch{AppendContent: "Hi"}.Apply(&conv.Messages[0])
package model
