// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// STREAMING: SSE framing is buffered so events split across reads reassemble.

// MaxEventSize is the maximum allowed size of a single SSE event (1MB).
const MaxEventSize = 1024 * 1024

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next SSE event from the stream and returns its event
// name and data. Multi-line data fields are joined with newlines. Comment
// lines and id/retry fields are skipped. Returns io.EOF at the end of the
// stream; a trailing event without a blank line is still returned first.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var (
		eventType string
		data      []byte
		hasData   bool
	)

	for {
		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && hasData {
				return eventType, data, nil
			}
			return "", nil, err
		}

		// Empty line signals end of event
		if len(line) == 0 {
			if hasData {
				return eventType, data, nil
			}
			eventType = ""
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			eventType = string(value)
		case "data":
			if hasData {
				data = append(data, '\n')
			}
			data = append(data, value...)
			hasData = true
			if len(data) > MaxEventSize {
				return "", nil, ErrEventTooLarge
			}
		}
	}
}

// readLine returns one line without its terminator. A final line without a
// terminator is returned with a nil error; the next call returns io.EOF.
func (s *SSEReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > MaxEventSize {
			return nil, ErrEventTooLarge
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// splitField splits "field: value". A line starting with ':' is a comment.
func splitField(line []byte) (string, []byte) {
	if line[0] == ':' {
		return "", nil
	}
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}
