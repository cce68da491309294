// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestEncode_TextOnlyIsPlainString(t *testing.T) {
	enc := NewEncoder(Options{})
	res, warnings := enc.Encode("  Hello  ", nil)

	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if res.Content.IsBlocks() {
		t.Fatal("text-only content should not be blocks")
	}
	if res.Content.Text() != "Hello" {
		t.Errorf("Text() = %q, want %q", res.Content.Text(), "Hello")
	}
	if res.DisplayText != "" || len(res.Attachments) != 0 {
		t.Errorf("unexpected display/attachments: %q %v", res.DisplayText, res.Attachments)
	}
}

func TestEncode_EmptyIsNoop(t *testing.T) {
	enc := NewEncoder(Options{})
	res, _ := enc.Encode("   \n", nil)
	if !res.IsEmpty() {
		t.Errorf("Encode(blank) should be empty, got %+v", res.Content)
	}
}

func TestEncode_OrderTextThenFiles(t *testing.T) {
	enc := NewEncoder(Options{})
	files := []File{
		NewFile("main.go", []byte("package main\n")),
		NewFile("cat.png", pngHeader),
		NewFile("paper.pdf", []byte("%PDF-1.4\n%%EOF\n")),
	}

	res, warnings := enc.Encode("review these", files)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}

	blocks := res.Content.Blocks()
	if len(blocks) != 4 {
		t.Fatalf("blocks = %d, want 4", len(blocks))
	}
	if blocks[0].Type != model.BlockText || blocks[0].Text != "review these" {
		t.Errorf("block 0 = %+v, want typed text", blocks[0])
	}
	if blocks[1].Type != model.BlockText || !strings.Contains(blocks[1].Text, "```go\npackage main\n```") {
		t.Errorf("block 1 = %q, want go fence", blocks[1].Text)
	}
	if blocks[2].Type != model.BlockImage || !strings.HasPrefix(blocks[2].URI, "data:image/png;base64,") {
		t.Errorf("block 2 = %+v, want png data URI", blocks[2])
	}
	if blocks[3].Type != model.BlockDocument || blocks[3].Filename != "paper.pdf" ||
		!strings.HasPrefix(blocks[3].Payload, "data:application/pdf;base64,") {
		t.Errorf("block 3 = %+v, want pdf document", blocks[3])
	}

	if res.DisplayText != "review these" {
		t.Errorf("DisplayText = %q", res.DisplayText)
	}
	wantKinds := []model.AttachmentKind{model.KindText, model.KindImage, model.KindDocument}
	for i, k := range wantKinds {
		if res.Attachments[i].Kind != k {
			t.Errorf("Attachments[%d].Kind = %q, want %q", i, res.Attachments[i].Kind, k)
		}
	}
}

func TestEncode_FilesWithoutText(t *testing.T) {
	enc := NewEncoder(Options{})
	res, _ := enc.Encode("", []File{NewFile("notes.txt", []byte("remember"))})

	blocks := res.Content.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	if !strings.Contains(blocks[0].Text, "```\nremember\n```") {
		t.Errorf("untagged fence expected, got %q", blocks[0].Text)
	}
}

func TestEncode_SmallLimitReported(t *testing.T) {
	tests := []struct {
		limit int64
		want  string
	}{
		{limit: 512, want: "512 bytes"},
		{limit: 64 << 10, want: "64 KiB"},
		{limit: 1500, want: "1500 bytes"},
	}
	for _, tt := range tests {
		enc := NewEncoder(Options{MaxSize: tt.limit})
		_, warnings := enc.Encode("x", []File{NewFile("notes.txt", make([]byte, tt.limit+1))})
		if len(warnings) != 1 {
			t.Fatalf("limit %d: warnings = %v, want 1", tt.limit, warnings)
		}
		if !strings.Contains(warnings[0].Reason, tt.want) {
			t.Errorf("limit %d: Reason = %q, want %q", tt.limit, warnings[0].Reason, tt.want)
		}
	}
}

func TestEncode_OversizedImageDropped(t *testing.T) {
	enc := NewEncoder(Options{})
	big := make([]byte, 25<<20)
	copy(big, pngHeader)

	res, warnings := enc.Encode("look", []File{NewFile("huge.png", big)})

	if len(warnings) != 1 || warnings[0].Name != "huge.png" {
		t.Fatalf("warnings = %v, want one for huge.png", warnings)
	}
	if !strings.Contains(warnings[0].Reason, "20 MiB") {
		t.Errorf("Reason = %q, want size limit", warnings[0].Reason)
	}
	if res.Content.IsBlocks() || res.Content.Text() != "look" {
		t.Errorf("content should be just the text, got %+v", res.Content)
	}
}

func TestEncode_SizeOnlyFileDroppedWithoutData(t *testing.T) {
	enc := NewEncoder(Options{MaxSize: 10})
	res, warnings := enc.Encode("", []File{{Name: "big.bin", Size: 11}})
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", warnings)
	}
	if !res.IsEmpty() {
		t.Error("result should be empty")
	}
}

func TestEncode_UnsupportedAndInvalidText(t *testing.T) {
	enc := NewEncoder(Options{})
	files := []File{
		NewFile("archive.zip", []byte("PK\x03\x04rest")),
		NewFile("bad.txt", []byte{0xff, 0xfe, 0xfd}),
		NewFile("empty.md", nil),
	}
	_, warnings := enc.Encode("hi", files)
	if len(warnings) != 3 {
		t.Fatalf("warnings = %v, want 3", warnings)
	}
	if warnings[0].Reason != "unsupported file type" {
		t.Errorf("zip reason = %q", warnings[0].Reason)
	}
}

func TestEncode_ImageByExtensionFallback(t *testing.T) {
	enc := NewEncoder(Options{})
	// Not a recognisable image signature; the extension decides.
	res, warnings := enc.Encode("", []File{NewFile("photo.webp", []byte{0x00, 0x01, 0x02, 0x03})})
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v", warnings)
	}
	blocks := res.Content.Blocks()
	if len(blocks) != 1 || !strings.HasPrefix(blocks[0].URI, "data:image/webp;base64,") {
		t.Errorf("blocks = %+v, want webp image", blocks)
	}
}

func TestFenced_EscapesBackticks(t *testing.T) {
	out := fenced("README.md", "markdown", "```go\nx\n```")
	if !strings.Contains(out, "````markdown\n") || !strings.HasSuffix(out, "\n````") {
		t.Errorf("fenced() = %q, want four-backtick fence", out)
	}
}

func TestLanguageFor(t *testing.T) {
	tests := []struct {
		name   string
		lang   string
		isText bool
	}{
		{"main.GO", "go", true},
		{"app.tsx", "tsx", true},
		{"notes.txt", "", true},
		{"Makefile", "makefile", true},
		{"binary.exe", "", false},
		{"noext", "", false},
	}
	for _, tc := range tests {
		lang, ok := languageFor(tc.name)
		if lang != tc.lang || ok != tc.isText {
			t.Errorf("languageFor(%q) = (%q, %v), want (%q, %v)", tc.name, lang, ok, tc.lang, tc.isText)
		}
	}
}

func TestFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.py")
	if err := os.WriteFile(path, []byte("print(1)\n"), 0600); err != nil {
		t.Fatal(err)
	}

	f, err := FromPath(path, DefaultMaxSize)
	if err != nil {
		t.Fatalf("FromPath() error = %v", err)
	}
	if f.Name != "small.py" || !bytes.Equal(f.Data, []byte("print(1)\n")) {
		t.Errorf("FromPath() = %+v", f)
	}

	large, err := FromPath(path, 4)
	if err != nil {
		t.Fatalf("FromPath(limit) error = %v", err)
	}
	if large.Data != nil || large.Size != 9 {
		t.Errorf("oversized file should carry size only, got %+v", large)
	}

	if _, err := FromPath(dir, DefaultMaxSize); err == nil {
		t.Error("FromPath(dir) should fail")
	}
}
