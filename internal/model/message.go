// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// AttachmentKind classifies a file attached to a user message.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
	KindText     AttachmentKind = "text"
)

// AttachmentMeta is the display record of an attached file.
type AttachmentMeta struct {
	Name string         `json:"name"`
	Kind AttachmentKind `json:"kind"`
}

// Usage is the token accounting reported at the end of a stream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// URLCitation is the payload of a url_citation annotation.
type URLCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// Annotation is a citation or source record attached to an assistant message.
// Types other than url_citation are kept with only Type set.
type Annotation struct {
	Type        string       `json:"type"`
	URLCitation *URLCitation `json:"url_citation,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Assistant only
	Reasoning   string       `json:"reasoning,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Usage       *Usage       `json:"usage,omitempty"`
	Error       bool         `json:"error,omitempty"`

	// User only
	DisplayText string           `json:"display_text,omitempty"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content Content) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content Content) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantPlaceholder creates the empty assistant message a stream fills in.
func NewAssistantPlaceholder() *Message {
	return NewMessage(RoleAssistant, Content{})
}

// IsUser returns true if this is a user message.
func (m *Message) IsUser() bool {
	return m.Role == RoleUser
}

// IsAssistant returns true if this is an assistant message.
func (m *Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// HasContent reports whether any content or reasoning has been recorded.
func (m *Message) HasContent() bool {
	return !m.Content.IsEmpty() || m.Reasoning != ""
}

// Display returns the text shown for the message: the typed text for user
// messages with attachments, the plain text otherwise.
func (m *Message) Display() string {
	if m.DisplayText != "" {
		return m.DisplayText
	}
	return m.Content.PlainText()
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() Message {
	out := *m
	out.Content = m.Content.Clone()
	if m.Annotations != nil {
		out.Annotations = append([]Annotation(nil), m.Annotations...)
	}
	if m.Attachments != nil {
		out.Attachments = append([]AttachmentMeta(nil), m.Attachments...)
	}
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	return out
}

// =============================================================================
// MESSAGE PATCH
// =============================================================================

// MessagePatch is a partial update with merge semantics. Zero-valued fields
// leave the message untouched.
type MessagePatch struct {
	AppendContent     string
	AppendReasoning   string
	AppendAnnotations []Annotation

	// SetContent replaces the content when non-nil.
	SetContent *Content
	SetUsage   *Usage
	SetError   *bool
}

// IsZero reports whether applying the patch would change nothing.
func (p MessagePatch) IsZero() bool {
	return p.AppendContent == "" && p.AppendReasoning == "" &&
		len(p.AppendAnnotations) == 0 && p.SetContent == nil &&
		p.SetUsage == nil && p.SetError == nil
}

// Apply merges the patch into m.
func (p MessagePatch) Apply(m *Message) {
	if p.SetContent != nil {
		m.Content = p.SetContent.Clone()
	}
	if p.AppendContent != "" {
		m.Content = m.Content.AppendText(p.AppendContent)
	}
	if p.AppendReasoning != "" {
		m.Reasoning += p.AppendReasoning
	}
	if len(p.AppendAnnotations) > 0 {
		m.Annotations = append(m.Annotations, p.AppendAnnotations...)
	}
	if p.SetUsage != nil {
		u := *p.SetUsage
		m.Usage = &u
	}
	if p.SetError != nil {
		m.Error = *p.SetError
	}
}

// Bool returns a pointer to b, for MessagePatch.SetError.
func Bool(b bool) *bool {
	return &b
}
