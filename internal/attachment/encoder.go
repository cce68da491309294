// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultMaxSize is the per-file ceiling (20 MiB).
const DefaultMaxSize int64 = 20 << 20

// imageTypes lists the image media types the gateway accepts.
var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

const pdfType = "application/pdf"

// =============================================================================
// TYPES
// =============================================================================

// File is a user-selected file. Data may be nil when Size already exceeds the
// ceiling; such files are dropped without being read.
type File struct {
	Name string
	Size int64
	Data []byte
}

// NewFile builds a File from in-memory bytes.
func NewFile(name string, data []byte) File {
	return File{Name: name, Size: int64(len(data)), Data: data}
}

// Warning reports a file that was dropped.
type Warning struct {
	Name   string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Name, w.Reason)
}

// Result is the encoder output for one send.
type Result struct {
	Content     model.Content
	DisplayText string
	Attachments []model.AttachmentMeta
}

// IsEmpty reports whether there is nothing to send.
func (r Result) IsEmpty() bool {
	return r.Content.IsEmpty()
}

// Options configures an Encoder.
type Options struct {
	// MaxSize is the per-file ceiling in bytes. Zero means DefaultMaxSize.
	MaxSize int64
}

// Encoder converts text and files into message content.
type Encoder struct {
	maxSize int64
}

// NewEncoder creates an Encoder.
func NewEncoder(opts Options) *Encoder {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	return &Encoder{maxSize: opts.MaxSize}
}

// MaxSize returns the per-file ceiling in bytes.
func (e *Encoder) MaxSize() int64 {
	return e.maxSize
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode builds content from text and files. Typed text comes first, followed
// by one block per accepted file in selection order. Text without files yields
// plain-string content.
func (e *Encoder) Encode(text string, files []File) (Result, []Warning) {
	text = strings.TrimSpace(text)

	var (
		blocks   []model.ContentBlock
		metas    []model.AttachmentMeta
		warnings []Warning
	)
	for _, f := range files {
		block, kind, warn := e.encodeFile(f)
		if warn != nil {
			warnings = append(warnings, *warn)
			continue
		}
		blocks = append(blocks, block)
		metas = append(metas, model.AttachmentMeta{Name: f.Name, Kind: kind})
	}

	if len(blocks) == 0 {
		if text == "" {
			return Result{}, warnings
		}
		return Result{Content: model.TextContent(text)}, warnings
	}

	if text != "" {
		blocks = append([]model.ContentBlock{model.TextBlock(text)}, blocks...)
	}
	return Result{
		Content:     model.BlockContent(blocks...),
		DisplayText: text,
		Attachments: metas,
	}, warnings
}

func (e *Encoder) encodeFile(f File) (model.ContentBlock, model.AttachmentKind, *Warning) {
	size := f.Size
	if int64(len(f.Data)) > size {
		size = int64(len(f.Data))
	}
	if size > e.maxSize {
		return model.ContentBlock{}, "", &Warning{
			Name:   f.Name,
			Reason: fmt.Sprintf("file exceeds %s limit", formatLimit(e.maxSize)),
		}
	}
	if len(f.Data) == 0 {
		return model.ContentBlock{}, "", &Warning{Name: f.Name, Reason: "file is empty"}
	}

	mediaType := detectMediaType(f)
	switch {
	case imageTypes[mediaType]:
		return model.ImageBlock(dataURI(mediaType, f.Data)), model.KindImage, nil
	case mediaType == pdfType:
		return model.DocumentBlock(f.Name, dataURI(pdfType, f.Data)), model.KindDocument, nil
	}

	lang, ok := languageFor(f.Name)
	if !ok {
		return model.ContentBlock{}, "", &Warning{Name: f.Name, Reason: "unsupported file type"}
	}
	if !utf8.Valid(f.Data) {
		return model.ContentBlock{}, "", &Warning{Name: f.Name, Reason: "file is not valid UTF-8 text"}
	}
	return model.TextBlock(fenced(f.Name, lang, string(f.Data))), model.KindText, nil
}

// detectMediaType sniffs the content, falling back to the extension when the
// sniffer has no opinion.
func detectMediaType(f File) string {
	m := mimetype.Detect(f.Data)
	for _, t := range []string{"image/png", "image/jpeg", "image/gif", "image/webp", pdfType} {
		if m.Is(t) {
			return t
		}
	}
	if m.Is("application/octet-stream") {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if t, ok := imageExtensions[ext]; ok {
			return t
		}
		if ext == ".pdf" {
			return pdfType
		}
	}
	return m.String()
}

func dataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// fenced wraps body in a code fence long enough that backtick runs inside the
// body cannot close it.
func fenced(name, lang, body string) string {
	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	body = strings.TrimRight(body, "\n")

	var sb strings.Builder
	sb.WriteString("File: ")
	sb.WriteString(name)
	sb.WriteString("\n")
	sb.WriteString(fence)
	sb.WriteString(lang)
	sb.WriteString("\n")
	sb.WriteString(body)
	sb.WriteString("\n")
	sb.WriteString(fence)
	return sb.String()
}

// =============================================================================
// FILESYSTEM
// =============================================================================

// FromPath loads a File from disk. Files larger than maxSize are returned with
// Size set and no data so the encoder can report them.
func FromPath(path string, maxSize int64) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("attachment %s is a directory", path)
	}

	f := File{Name: filepath.Base(path), Size: info.Size()}
	if maxSize > 0 && info.Size() > maxSize {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read attachment: %w", err)
	}
	f.Data = data
	f.Size = int64(len(data))
	return f, nil
}

// formatLimit renders a byte ceiling in the largest unit that divides it.
func formatLimit(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KiB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
