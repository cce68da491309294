// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

var fixedNow = time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)

func sampleConversation() *model.Conversation {
	conv := model.NewConversation("conv-1")
	conv.Title = "Trip: plans"
	conv.CreatedAt = fixedNow.Add(-time.Hour)
	conv.UpdatedAt = fixedNow

	user := model.NewUserMessage(model.TextContent("Where should I go?"))
	user.CreatedAt = fixedNow.Add(-time.Hour)
	user.Attachments = []model.AttachmentMeta{{Name: "map.png", Kind: model.KindImage}}
	user.DisplayText = "Where should I go?"

	reply := model.NewAssistantPlaceholder()
	reply.CreatedAt = fixedNow.Add(-59 * time.Minute)
	reply.Content = model.TextContent("Try **Lisbon**.")
	reply.Reasoning = "User wants travel advice."
	reply.Usage = &model.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}

	failed := model.NewAssistantPlaceholder()
	failed.Content = model.TextContent("Gateway unavailable")
	failed.Error = true

	conv.Messages = []model.Message{*user, *reply, *failed}
	return conv
}

func testOptions(dir string) *Options {
	opts := DefaultOptions()
	opts.OutputDir = dir
	opts.Model = "openrouter/auto"
	opts.Now = func() time.Time { return fixedNow }
	return opts
}

// =============================================================================
// MARKDOWN TESTS
// =============================================================================

func TestMarkdownExporter_Export(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions("")).Export(sampleConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Trip: plans\"\n"))
	assert.Contains(t, md, "model: openrouter/auto\n")
	assert.Contains(t, md, "messages: 3\n")
	assert.Contains(t, md, "tokens: 17\n")
	assert.Contains(t, md, "# Trip: plans\n")
	assert.Contains(t, md, "### You <sub>09:30:00</sub>")
	assert.Contains(t, md, "> Attached: `map.png` (image)")
	assert.Contains(t, md, "<details><summary>Reasoning</summary>\n\nUser wants travel advice.")
	assert.Contains(t, md, "Try **Lisbon**.")
	assert.Contains(t, md, "<sub>Tokens: 12 prompt | 5 completion</sub>")
	assert.Contains(t, md, "*This response failed.*")
	assert.Contains(t, md, "*Exported from rigrun-chat on 2025-03-04 10:30:00*")
}

func TestMarkdownExporter_NoMetadata(t *testing.T) {
	opts := testOptions("")
	opts.IncludeMetadata = false
	opts.IncludeTimestamps = false

	out, err := NewMarkdownExporter(opts).Export(sampleConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "# Trip: plans\n"))
	assert.Contains(t, md, "### You\n")
	assert.NotContains(t, md, "Tokens:")
}

func TestMarkdownExporter_Errors(t *testing.T) {
	e := NewMarkdownExporter(nil)
	_, err := e.Export(nil)
	assert.ErrorIs(t, err, ErrNilConversation)

	_, err = e.Export(model.NewConversation("empty"))
	assert.Error(t, err)
}

func TestEscaping(t *testing.T) {
	assert.Equal(t, `\# a \*b\* \_c\_ \[d\]`, escapeMarkdown("# a *b* _c_ [d]"))
	assert.Equal(t, "plain", escapeYAML("plain"))
	assert.Equal(t, `"a: \"b\"\n"`, escapeYAML("a: \"b\"\n"))
	assert.Equal(t, `" padded"`, escapeYAML(" padded"))
}

// =============================================================================
// JSON TESTS
// =============================================================================

func TestJSONExporter_Export(t *testing.T) {
	out, err := NewJSONExporter(testOptions("")).Export(sampleConversation())
	require.NoError(t, err)

	var doc struct {
		ID         string           `json:"id"`
		Title      string           `json:"title"`
		Model      string           `json:"model"`
		ExportedAt time.Time        `json:"exported_at"`
		Messages   []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "conv-1", doc.ID)
	assert.Equal(t, "openrouter/auto", doc.Model)
	assert.True(t, doc.ExportedAt.Equal(fixedNow))
	require.Len(t, doc.Messages, 3)
	assert.Equal(t, "Try **Lisbon**.", doc.Messages[1]["content"])
	assert.Equal(t, true, doc.Messages[2]["error"])

	out, err = NewJSONExporter(nil).Export(model.NewConversation("empty"))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"messages": []`)
}

// =============================================================================
// FILE TESTS
// =============================================================================

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	opts := testOptions(dir)

	for _, format := range []string{"md", "json"} {
		t.Run(format, func(t *testing.T) {
			exporter, err := ForFormat(format, opts)
			require.NoError(t, err)

			path, err := ExportToFile(sampleConversation(), exporter, opts)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "conversation_Trip-_plans_20250304_103000"+exporter.FileExtension()), path)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}

	_, err := ExportToFile(nil, NewJSONExporter(opts), opts)
	assert.ErrorIs(t, err, ErrNilConversation)
}

func TestForFormat(t *testing.T) {
	e, err := ForFormat("Markdown", nil)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", e.MimeType())

	e, err = ForFormat("json", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", e.MimeType())

	_, err = ForFormat("html", nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "Hello_World"},
		{"a/b\\c:d*e?f", "a-b-c-d-e-f"},
		{"", "conversation"},
		{"tab\there\x01", "tab_here-"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in))
	}
}
