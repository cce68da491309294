// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNilConversation
	}
	if len(conv.Messages) == 0 {
		return nil, errors.New("conversation has no messages")
	}

	var sb strings.Builder
	now := e.options.now()

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(conv.Title))
		if e.options.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", escapeYAML(e.options.Model))
		}
		fmt.Fprintf(&sb, "date: %s\n", conv.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", conv.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(conv.Messages))
		if tokens := totalTokens(conv.Messages); tokens > 0 {
			fmt.Fprintf(&sb, "tokens: %d\n", tokens)
		}
		fmt.Fprintf(&sb, "exported: %s\n", now.Format(time.RFC3339))
		sb.WriteString("generator: rigrun-chat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Title))

	for i, msg := range conv.Messages {
		label := msg.Role.DisplayName()
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		for _, a := range msg.Attachments {
			fmt.Fprintf(&sb, "> Attached: `%s` (%s)\n", a.Name, a.Kind)
		}
		if len(msg.Attachments) > 0 {
			sb.WriteString("\n")
		}

		if msg.Reasoning != "" {
			sb.WriteString("<details><summary>Reasoning</summary>\n\n")
			sb.WriteString(strings.TrimSpace(msg.Reasoning))
			sb.WriteString("\n\n</details>\n\n")
		}

		if content := strings.TrimSpace(msg.Display()); content != "" {
			sb.WriteString(content)
			sb.WriteString("\n\n")
		}
		if msg.Error {
			sb.WriteString("*This response failed.*\n\n")
		}

		if msg.IsAssistant() && e.options.IncludeMetadata {
			if stats := formatUsage(msg.Usage); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	fmt.Fprintf(&sb, "\n---\n\n*Exported from rigrun-chat on %s*\n", formatTimestamp(now))
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func totalTokens(msgs []model.Message) int {
	total := 0
	for _, m := range msgs {
		if m.Usage != nil {
			total += m.Usage.PromptTokens + m.Usage.CompletionTokens
		}
	}
	return total
}

// formatUsage formats token usage for one response.
func formatUsage(u *model.Usage) string {
	if u == nil || (u.PromptTokens == 0 && u.CompletionTokens == 0) {
		return ""
	}
	return fmt.Sprintf("<sub>Tokens: %d prompt | %d completion</sub>", u.PromptTokens, u.CompletionTokens)
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values containing YAML special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
