// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_Typed(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantKinds []DeltaKind
		wantText  string
		wantUsage bool
		wantDone  bool
		wantErr   bool
	}{
		{name: "content", payload: `{"type":"content","text":"Hi"}`, wantKinds: []DeltaKind{DeltaContent}, wantText: "Hi"},
		{name: "content field alias", payload: `{"type":"content","content":"Yo"}`, wantKinds: []DeltaKind{DeltaContent}, wantText: "Yo"},
		{name: "reasoning", payload: `{"type":"reasoning","text":"hmm"}`, wantKinds: []DeltaKind{DeltaReasoning}, wantText: "hmm"},
		{name: "annotations", payload: `{"type":"annotations","annotations":[{"type":"url_citation","url_citation":{"url":"https://x"}}]}`, wantKinds: []DeltaKind{DeltaAnnotations}},
		{name: "usage", payload: `{"type":"usage","usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`, wantUsage: true},
		{name: "done", payload: `{"type":"done"}`, wantDone: true},
		{name: "done marker", payload: `[DONE]`, wantDone: true},
		{name: "error", payload: `{"type":"error","message":"boom"}`, wantErr: true},
		{name: "unknown type ignored", payload: `{"type":"heartbeat","text":"x"}`},
		{name: "empty content ignored", payload: `{"type":"content","text":""}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := decodeEvent([]byte(tc.payload))
			require.NoError(t, err)

			var kinds []DeltaKind
			for _, d := range ev.deltas {
				kinds = append(kinds, d.Kind)
			}
			assert.Equal(t, tc.wantKinds, kinds)
			if tc.wantText != "" {
				assert.Equal(t, tc.wantText, ev.deltas[0].Text)
			}
			assert.Equal(t, tc.wantUsage, ev.usage != nil)
			assert.Equal(t, tc.wantDone, ev.done)
			assert.Equal(t, tc.wantErr, ev.err != nil)
		})
	}
}

func TestDecodeEvent_OpenAIChunk(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"id":"x","choices":[{"delta":{"role":"assistant","content":"Hel","reasoning":"r"}}]}`))
	require.NoError(t, err)
	require.Len(t, ev.deltas, 2)
	assert.Equal(t, DeltaReasoning, ev.deltas[0].Kind)
	assert.Equal(t, DeltaContent, ev.deltas[1].Kind)
	assert.Equal(t, "Hel", ev.deltas[1].Text)

	ev, err = decodeEvent([]byte(`{"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.usage)
	assert.Equal(t, 3, ev.usage.TotalTokens)
}

func TestDecodeEvent_InBandErrorWithStatusCode(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"error":{"message":"Insufficient credits","code":402}}`))
	require.NoError(t, err)
	require.Error(t, ev.err)

	var apiErr *APIError
	require.True(t, errors.As(ev.err, &apiErr))
	assert.Equal(t, 402, apiErr.Status)
	assert.True(t, IsPaymentRequired(ev.err))
}

func TestDecodeEvent_Malformed(t *testing.T) {
	_, err := decodeEvent([]byte(`{"type":"content","text":`))
	assert.ErrorIs(t, err, ErrMalformedStream)
}

func TestDelta_Patch(t *testing.T) {
	p := Delta{Kind: DeltaContent, Text: "a"}.Patch()
	assert.Equal(t, "a", p.AppendContent)
	p = Delta{Kind: DeltaReasoning, Text: "b"}.Patch()
	assert.Equal(t, "b", p.AppendReasoning)
	assert.True(t, Delta{Kind: "other"}.Patch().IsZero())
}
