// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// DefaultTitle is used until a title is derived or set.
const DefaultTitle = "New Conversation"

// LocalIDPrefix marks conversation ids minted without the remote service.
const LocalIDPrefix = "local-"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat conversation with its messages and metadata.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages
	Messages []Message `json:"messages,omitempty"`

	// Loaded is false while only metadata is known.
	Loaded bool `json:"-"`

	// LocalOnly conversations were minted offline and never reach the remote.
	LocalOnly bool `json:"-"`

	// TitleLocked is set once a title was derived or explicitly renamed.
	TitleLocked bool `json:"-"`
}

// NewConversation creates an empty, loaded conversation with the given id.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Loaded:    true,
	}
}

// FromMeta creates an unloaded conversation from cached or listed metadata.
func FromMeta(meta ConversationMeta) *Conversation {
	return &Conversation{
		ID:        meta.ID,
		Title:     meta.Title,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the conversation.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
}

// Last returns the most recent message, or nil if empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// RemoveLast drops the most recent message and returns it.
func (c *Conversation) RemoveLast() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	last := c.Messages[len(c.Messages)-1]
	c.Messages = c.Messages[:len(c.Messages)-1]
	c.UpdatedAt = time.Now()
	return last, true
}

// UserMessageCount returns the number of user messages.
func (c *Conversation) UserMessageCount() int {
	n := 0
	for i := range c.Messages {
		if c.Messages[i].IsUser() {
			n++
		}
	}
	return n
}

// IsEmpty is true for a loaded conversation with no messages. Unloaded
// conversations are never considered empty.
func (c *Conversation) IsEmpty() bool {
	return c.Loaded && len(c.Messages) == 0
}

// Meta returns the metadata projection of the conversation.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	out := *c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i := range c.Messages {
			out.Messages[i] = c.Messages[i].Clone()
		}
	}
	return &out
}

// =============================================================================
// METADATA
// =============================================================================

// ConversationMeta is the cacheable summary of a conversation. It never
// carries message bodies.
type ConversationMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
