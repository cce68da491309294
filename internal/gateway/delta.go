// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DeltaKind discriminates Delta variants.
type DeltaKind string

const (
	DeltaContent     DeltaKind = "content"
	DeltaReasoning   DeltaKind = "reasoning"
	DeltaAnnotations DeltaKind = "annotations"
)

// Delta is one incremental update to the in-flight assistant message.
type Delta struct {
	Kind        DeltaKind
	Text        string
	Annotations []model.Annotation
}

// Patch converts the delta into a message patch.
func (d Delta) Patch() model.MessagePatch {
	switch d.Kind {
	case DeltaContent:
		return model.MessagePatch{AppendContent: d.Text}
	case DeltaReasoning:
		return model.MessagePatch{AppendReasoning: d.Text}
	case DeltaAnnotations:
		return model.MessagePatch{AppendAnnotations: d.Annotations}
	default:
		return model.MessagePatch{}
	}
}

// doneMarker is the OpenAI-style end-of-stream sentinel.
var doneMarker = []byte("[DONE]")

// streamEvent is the decoded meaning of one SSE payload.
type streamEvent struct {
	deltas []Delta
	usage  *model.Usage
	done   bool
	err    error
}

// payloadError is an in-band error object.
type payloadError struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

// streamPayload covers both the typed event shape ({"type":"content",...})
// and the OpenAI chunk shape ({"choices":[{"delta":{...}}]}).
type streamPayload struct {
	Type        string             `json:"type"`
	Text        string             `json:"text"`
	Content     string             `json:"content"`
	Message     string             `json:"message"`
	Annotations []model.Annotation `json:"annotations"`
	Usage       *model.Usage       `json:"usage"`
	Error       *payloadError      `json:"error"`
	Choices     []struct {
		Delta struct {
			Content     string             `json:"content"`
			Reasoning   string             `json:"reasoning"`
			Annotations []model.Annotation `json:"annotations"`
		} `json:"delta"`
	} `json:"choices"`
}

// decodeEvent interprets one SSE data payload. Unknown discriminators decode
// to an empty event.
func decodeEvent(data []byte) (streamEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return streamEvent{}, nil
	}
	if bytes.Equal(data, doneMarker) {
		return streamEvent{done: true}, nil
	}

	var p streamPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return streamEvent{}, fmt.Errorf("%w: %w", ErrMalformedStream, err)
	}

	if p.Type != "" {
		return decodeTyped(p), nil
	}

	var ev streamEvent
	if p.Error != nil {
		ev.err = inBandError(p.Error.Message, p.Error.Code)
		return ev, nil
	}
	if len(p.Choices) > 0 {
		d := p.Choices[0].Delta
		if d.Reasoning != "" {
			ev.deltas = append(ev.deltas, Delta{Kind: DeltaReasoning, Text: d.Reasoning})
		}
		if d.Content != "" {
			ev.deltas = append(ev.deltas, Delta{Kind: DeltaContent, Text: d.Content})
		}
		if len(d.Annotations) > 0 {
			ev.deltas = append(ev.deltas, Delta{Kind: DeltaAnnotations, Annotations: d.Annotations})
		}
	}
	ev.usage = p.Usage
	return ev, nil
}

func decodeTyped(p streamPayload) streamEvent {
	text := p.Text
	if text == "" {
		text = p.Content
	}

	switch p.Type {
	case "content":
		if text == "" {
			return streamEvent{}
		}
		return streamEvent{deltas: []Delta{{Kind: DeltaContent, Text: text}}}
	case "reasoning":
		if text == "" {
			return streamEvent{}
		}
		return streamEvent{deltas: []Delta{{Kind: DeltaReasoning, Text: text}}}
	case "annotations":
		if len(p.Annotations) == 0 {
			return streamEvent{}
		}
		return streamEvent{deltas: []Delta{{Kind: DeltaAnnotations, Annotations: p.Annotations}}}
	case "usage":
		return streamEvent{usage: p.Usage}
	case "done":
		return streamEvent{usage: p.Usage, done: true}
	case "error":
		if p.Error != nil {
			return streamEvent{err: inBandError(p.Error.Message, p.Error.Code)}
		}
		return streamEvent{err: inBandError(p.Message, nil)}
	default:
		return streamEvent{}
	}
}

// inBandError builds the error for a stream error event. A numeric code is
// treated as an HTTP status.
func inBandError(message string, rawCode json.RawMessage) error {
	if message == "" {
		message = "stream error"
	}
	code := codeString(rawCode)
	apiErr := &APIError{Code: code, Message: message}
	if n, err := strconv.Atoi(code); err == nil && n >= 400 && n < 600 {
		apiErr.Status = n
		apiErr.Code = ""
	}
	return apiErr
}
