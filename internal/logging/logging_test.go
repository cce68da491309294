// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_JSONIncludesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer slog.SetDefault(Discard())

	ctx := WithConversation(context.Background(), "c-42")
	ctx = WithFields(ctx, Fields{MessageID: "m-1"})
	Component(logger, "store").DebugContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["conversation_id"] != "c-42" {
		t.Errorf("conversation_id = %v, want c-42", rec["conversation_id"])
	}
	if rec["message_id"] != "m-1" {
		t.Errorf("message_id = %v, want m-1", rec["message_id"])
	}
	if rec["component"] != "store" {
		t.Errorf("component = %v, want store", rec["component"])
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer slog.SetDefault(Discard())

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn record missing")
	}
}

func TestSetup_RejectsUnknown(t *testing.T) {
	if _, err := Setup(Options{Level: "chatty"}); err == nil {
		t.Error("Setup(level=chatty) should fail")
	}
	if _, err := Setup(Options{Format: "xml"}); err == nil {
		t.Error("Setup(format=xml) should fail")
	}
}
