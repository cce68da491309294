// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// Handlers receive the outcome of a stream session. Calls are sequential and
// come from the session's goroutine. Exactly one of OnDone or OnError is
// called unless the session is cancelled first, in which case neither is.
type Handlers struct {
	OnChunk func(Delta)
	OnDone  func(*model.Usage)
	OnError func(error)
}

// Session is one in-flight streaming exchange.
type Session struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
	started   time.Time
}

// Cancel aborts the session. It is idempotent and suppresses every later
// callback, including the terminal one.
func (s *Session) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.cancel()
	}
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Done is closed when the session goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Started returns when the session was opened.
func (s *Session) Started() time.Time {
	return s.started
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content model.Content `json:"content"`
}

type usageOption struct {
	Include bool `json:"include"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Usage    *usageOption  `json:"usage,omitempty"`
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StartSession opens a streaming chat exchange carrying messages as the full
// history. It returns immediately; results arrive through h. Streaming
// requests are never retried.
func (c *Client) StartSession(ctx context.Context, messages []model.Message, h Handlers) *Session {
	wire := make([]chatMessage, 0, len(messages))
	for i := range messages {
		wire = append(wire, chatMessage{
			Role:    messages[i].Role.String(),
			Content: messages[i].Content.Clone(),
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{cancel: cancel, done: make(chan struct{}), started: time.Now()}

	go func() {
		defer close(s.done)
		defer cancel()

		usage, err := c.stream(ctx, s, wire, h.OnChunk)
		if s.cancelled.Load() {
			return
		}
		if err != nil {
			c.logger.InfoContext(ctx, "stream failed", "error", err)
			if h.OnError != nil {
				h.OnError(err)
			}
			return
		}
		if h.OnDone != nil {
			h.OnDone(usage)
		}
	}()
	return s
}

// stream performs the request and decodes events until termination.
func (c *Client) stream(ctx context.Context, s *Session, messages []chatMessage, onChunk func(Delta)) (*model.Usage, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
		Usage:    &usageOption{Include: true},
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(ctx, c.streamClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := readResponse(resp)
		return nil, handleErrorResponse(resp.StatusCode, body, ErrModelNotFound)
	}

	reader := NewSSEReader(resp.Body)
	var usage *model.Usage
	for {
		if s.cancelled.Load() {
			return nil, context.Canceled
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return usage, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("stream read failed: %w", err)
		}

		ev, err := decodeEvent(data)
		if err != nil {
			return nil, err
		}
		if ev.err != nil {
			return nil, ev.err
		}
		for _, d := range ev.deltas {
			if s.cancelled.Load() {
				return nil, context.Canceled
			}
			if onChunk != nil {
				onChunk(d)
			}
		}
		if ev.usage != nil {
			usage = ev.usage
		}
		if ev.done {
			return usage, nil
		}
	}
}
