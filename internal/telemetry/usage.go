// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// USAGE TRACKER
// =============================================================================

// UsageTracker accumulates token usage per conversation for the process.
type UsageTracker struct {
	mu        sync.RWMutex
	convs     map[string]*ConversationUsage
	startTime time.Time
}

// ConversationUsage is the running total for one conversation.
type ConversationUsage struct {
	ConversationID   string        `json:"conversation_id"`
	Responses        int           `json:"responses"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalDuration    time.Duration `json:"total_duration"`
	LastResponse     time.Time     `json:"last_response"`
}

// TotalTokens returns prompt plus completion tokens.
func (u ConversationUsage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		convs:     make(map[string]*ConversationUsage),
		startTime: time.Now(),
	}
}

// Record adds one completed response. A nil usage still counts the response.
// Record on a nil tracker does nothing.
func (t *UsageTracker) Record(conversationID string, usage *model.Usage, duration time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cu := t.convs[conversationID]
	if cu == nil {
		cu = &ConversationUsage{ConversationID: conversationID}
		t.convs[conversationID] = cu
	}
	cu.Responses++
	cu.TotalDuration += duration
	cu.LastResponse = time.Now()
	if usage != nil {
		cu.PromptTokens += usage.PromptTokens
		cu.CompletionTokens += usage.CompletionTokens
	}
}

// Conversation returns the totals for one conversation.
func (t *UsageTracker) Conversation(conversationID string) (ConversationUsage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cu, ok := t.convs[conversationID]
	if !ok {
		return ConversationUsage{}, false
	}
	return *cu, true
}

// Totals sums usage over all conversations.
func (t *UsageTracker) Totals() ConversationUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total ConversationUsage
	for _, cu := range t.convs {
		total.Responses += cu.Responses
		total.PromptTokens += cu.PromptTokens
		total.CompletionTokens += cu.CompletionTokens
		total.TotalDuration += cu.TotalDuration
		if cu.LastResponse.After(total.LastResponse) {
			total.LastResponse = cu.LastResponse
		}
	}
	return total
}

// Top returns up to n conversations ordered by total tokens, highest first.
func (t *UsageTracker) Top(n int) []ConversationUsage {
	t.mu.RLock()
	out := make([]ConversationUsage, 0, len(t.convs))
	for _, cu := range t.convs {
		out = append(out, *cu)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalTokens() != out[j].TotalTokens() {
			return out[i].TotalTokens() > out[j].TotalTokens()
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Forget drops a conversation, e.g. after it was deleted.
func (t *UsageTracker) Forget(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.convs, conversationID)
}

// Uptime returns how long the tracker has existed.
func (t *UsageTracker) Uptime() time.Duration {
	return time.Since(t.startTime)
}
