// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// CONVERSATION SERVICE
// =============================================================================

type createConversationRequest struct {
	Title string `json:"title"`
}

type updateConversationRequest struct {
	Title string `json:"title"`
}

type listConversationsResponse struct {
	Conversations []model.ConversationMeta `json:"conversations"`
}

func conversationPath(id string) string {
	return "/conversations/" + url.PathEscape(id)
}

// CreateConversation mints a conversation on the server. It is not retried.
func (c *Client) CreateConversation(ctx context.Context, title string) (model.ConversationMeta, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/conversations", createConversationRequest{Title: title})
	if err != nil {
		return model.ConversationMeta{}, err
	}
	resp, err := c.do(ctx, c.httpClient, req)
	if err != nil {
		return model.ConversationMeta{}, err
	}

	var meta model.ConversationMeta
	if err := decodeJSON(resp, ErrConversationNotFound, &meta); err != nil {
		return model.ConversationMeta{}, err
	}
	return meta, nil
}

// ListConversations returns one page of conversation metadata, newest first.
func (c *Client) ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationMeta, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/conversations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, err
	}

	var out listConversationsResponse
	if err := decodeJSON(resp, ErrConversationNotFound, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation fetches a conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, conversationPath(id), nil)
	})
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	if err := decodeJSON(resp, ErrConversationNotFound, &conv); err != nil {
		return nil, err
	}
	conv.Loaded = true
	return &conv, nil
}

// UpdateTitle renames a conversation.
func (c *Client) UpdateTitle(ctx context.Context, id, title string) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPatch, conversationPath(id), updateConversationRequest{Title: title})
	})
	if err != nil {
		return err
	}
	return decodeJSON(resp, ErrConversationNotFound, nil)
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodDelete, conversationPath(id), nil)
	})
	if err != nil {
		return err
	}
	return decodeJSON(resp, ErrConversationNotFound, nil)
}
