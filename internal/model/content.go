// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// CONTENT BLOCKS
// =============================================================================

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockImage    BlockType = "image"
	BlockDocument BlockType = "document"
)

// Wire tags used by the gateway for each block type.
const (
	wireText     = "text"
	wireImageURL = "image_url"
	wireFile     = "file"
)

// ContentBlock is one element of structured message content.
//
//	text:     Text
//	image:    URI (a data URI)
//	document: Filename and Payload (a data URI)
type ContentBlock struct {
	Type     BlockType
	Text     string
	URI      string
	Filename string
	Payload  string
}

// TextBlock returns a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock returns an image block referencing uri.
func ImageBlock(uri string) ContentBlock {
	return ContentBlock{Type: BlockImage, URI: uri}
}

// DocumentBlock returns a document block.
func DocumentBlock(filename, payload string) ContentBlock {
	return ContentBlock{Type: BlockDocument, Filename: filename, Payload: payload}
}

type wireBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *wireImageRef  `json:"image_url,omitempty"`
	File     *wireFileInput `json:"file,omitempty"`
}

type wireImageRef struct {
	URL string `json:"url"`
}

type wireFileInput struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// MarshalJSON encodes the block in the gateway's wire shape.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	var w wireBlock
	switch b.Type {
	case BlockText:
		w = wireBlock{Type: wireText, Text: b.Text}
	case BlockImage:
		w = wireBlock{Type: wireImageURL, ImageURL: &wireImageRef{URL: b.URI}}
	case BlockDocument:
		w = wireBlock{Type: wireFile, File: &wireFileInput{Filename: b.Filename, FileData: b.Payload}}
	default:
		return nil, fmt.Errorf("unknown content block type %q", b.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire-shaped block.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case wireText:
		*b = TextBlock(w.Text)
	case wireImageURL:
		if w.ImageURL == nil {
			return fmt.Errorf("image_url block without url")
		}
		*b = ImageBlock(w.ImageURL.URL)
	case wireFile:
		if w.File == nil {
			return fmt.Errorf("file block without file")
		}
		*b = DocumentBlock(w.File.Filename, w.File.FileData)
	default:
		return fmt.Errorf("unknown content block type %q", w.Type)
	}
	return nil
}

// =============================================================================
// CONTENT
// =============================================================================

// Content is message content: either a plain string or a sequence of blocks,
// never both. The zero value is the empty string.
type Content struct {
	text   string
	blocks []ContentBlock
}

// TextContent returns plain-string content.
func TextContent(s string) Content {
	return Content{text: s}
}

// BlockContent returns structured content. An empty list yields empty text.
func BlockContent(blocks ...ContentBlock) Content {
	if len(blocks) == 0 {
		return Content{}
	}
	return Content{blocks: append([]ContentBlock(nil), blocks...)}
}

// IsBlocks reports whether the content is structured.
func (c Content) IsBlocks() bool {
	return c.blocks != nil
}

// IsEmpty reports whether there is nothing to display or send.
func (c Content) IsEmpty() bool {
	return c.text == "" && len(c.blocks) == 0
}

// Text returns the plain string form. It is empty for block content.
func (c Content) Text() string {
	return c.text
}

// Blocks returns a copy of the block list, nil for plain content.
func (c Content) Blocks() []ContentBlock {
	if c.blocks == nil {
		return nil
	}
	return append([]ContentBlock(nil), c.blocks...)
}

// PlainText returns the textual part of the content with block text joined
// by blank lines.
func (c Content) PlainText() string {
	if c.blocks == nil {
		return c.text
	}
	var parts []string
	for _, b := range c.blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// AppendText returns content with s appended. For block content the text is
// added to a trailing text block.
func (c Content) AppendText(s string) Content {
	if c.blocks == nil {
		return Content{text: c.text + s}
	}
	out := c.Clone()
	if n := len(out.blocks); n > 0 && out.blocks[n-1].Type == BlockText {
		out.blocks[n-1].Text += s
	} else {
		out.blocks = append(out.blocks, TextBlock(s))
	}
	return out
}

// Clone returns a copy that shares no backing array with c.
func (c Content) Clone() Content {
	if c.blocks == nil {
		return Content{text: c.text}
	}
	return Content{blocks: append([]ContentBlock(nil), c.blocks...)}
}

// MarshalJSON encodes plain content as a JSON string and blocks as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.blocks != nil {
		return json.Marshal(c.blocks)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts a JSON string, an array of blocks, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case data[0] == '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = BlockContent(blocks...)
		return nil
	default:
		return fmt.Errorf("content must be a string or an array, got %s", data[:1])
	}
}
