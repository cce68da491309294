// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/gateway"
	"github.com/jeranaias/rigrun-chat/internal/gatewaytest"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// isolate points HOME at a temp dir and clears environment overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"RIGRUN_CHAT_GATEWAY_URL", "RIGRUN_CHAT_TOKEN", "RIGRUN_CHAT_MODEL",
		"RIGRUN_CHAT_WATCHDOG_SECS", "RIGRUN_CHAT_CACHE_DRIVER", "RIGRUN_CHAT_CACHE_PATH",
		"RIGRUN_CHAT_LOG_LEVEL", "RIGRUN_CHAT_LOG_FORMAT", "RIGRUN_CHAT_METRICS_ADDR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	old := config.DotEnvFiles
	config.DotEnvFiles = nil
	t.Cleanup(func() { config.DotEnvFiles = old })
	return home
}

// withFakeGateway isolates the environment and points it at a fake gateway
// with caching disabled.
func withFakeGateway(t *testing.T) *gatewaytest.Fake {
	t.Helper()
	isolate(t)
	fake, srv := gatewaytest.NewServer(t)
	t.Setenv("RIGRUN_CHAT_GATEWAY_URL", srv.URL)
	t.Setenv("RIGRUN_CHAT_CACHE_DRIVER", storage.DriverNone)
	t.Setenv("RIGRUN_CHAT_LOG_LEVEL", "error")
	return fake
}

func newTestApp(t *testing.T) (*gatewaytest.Fake, *App) {
	t.Helper()
	fake := withFakeGateway(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	app, err := NewApp(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return fake, app
}

func runRoot(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// =============================================================================
// REPL TESTS
// =============================================================================

func TestREPL_SendStreamsReply(t *testing.T) {
	fake, app := newTestApp(t)
	var out bytes.Buffer
	r := newREPL(app, &out)
	ctx := context.Background()

	cont, err := r.handle(ctx, "Hello")
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Contains(t, out.String(), "You said: Hello")
	assert.False(t, app.Chat.IsStreaming())

	id := app.Store.ActiveID()
	msgs := app.Store.Messages(id)
	require.Len(t, msgs, 2)
	assert.Equal(t, "You said: Hello", msgs[1].Content.PlainText())

	conv, ok := app.Store.Conversation(id)
	require.True(t, ok)
	assert.Equal(t, "Hello", conv.Title)
	assert.Equal(t, 1, fake.Calls(gatewaytest.OpChat))
}

func TestREPL_SlashCommands(t *testing.T) {
	fake, app := newTestApp(t)
	var out bytes.Buffer
	r := newREPL(app, &out)
	ctx := context.Background()

	_, err := r.handle(ctx, "/rename Nope")
	assert.ErrorIs(t, err, errNoActive)

	_, err = r.handle(ctx, "/new")
	require.NoError(t, err)
	first := app.Store.ActiveID()
	require.NotEmpty(t, first)

	_, err = r.handle(ctx, "first question")
	require.NoError(t, err)
	_, err = r.handle(ctx, "/rename  Greeting ")
	require.NoError(t, err)
	_, err = r.handle(ctx, "/new")
	require.NoError(t, err)
	second := app.Store.ActiveID()
	assert.NotEqual(t, first, second)

	out.Reset()
	_, err = r.handle(ctx, "/list")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Greeting")

	// The newest conversation is listed first.
	_, err = r.handle(ctx, "/switch 2")
	require.NoError(t, err)
	assert.Equal(t, first, app.Store.ActiveID())

	out.Reset()
	_, err = r.handle(ctx, "/history")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "first question")
	assert.Contains(t, out.String(), "You said: first question")

	_, err = r.handle(ctx, "/regen")
	require.NoError(t, err)
	assert.Len(t, app.Store.Messages(first), 2)
	assert.Equal(t, 2, fake.Calls(gatewaytest.OpChat))

	out.Reset()
	_, err = r.handle(ctx, "/usage")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2 responses")

	dir := t.TempDir()
	r.exportDir = dir
	_, err = r.handle(ctx, "/export md")
	require.NoError(t, err)
	exported, err := filepath.Glob(filepath.Join(dir, "conversation_Greeting_*.md"))
	require.NoError(t, err)
	assert.Len(t, exported, 1)

	_, err = r.handle(ctx, "/delete")
	require.NoError(t, err)
	assert.Equal(t, second, app.Store.ActiveID())

	_, err = r.handle(ctx, "/bogus")
	assert.Error(t, err)

	cont, err := r.handle(ctx, "/quit")
	require.NoError(t, err)
	assert.False(t, cont)

	require.NoError(t, app.Close())
	conv, ok := fake.Conversation(second)
	require.True(t, ok)
	assert.Equal(t, model.DefaultTitle, conv.Title)
	_, ok = fake.Conversation(first)
	assert.False(t, ok, "deleted conversation should be gone remotely")
}

func TestREPL_Attach(t *testing.T) {
	fake, app := newTestApp(t)
	var out bytes.Buffer
	r := newREPL(app, &out)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\nhello"), 0600))

	_, err := r.handle(ctx, "/attach "+path)
	require.NoError(t, err)
	assert.Equal(t, "chat [+1]> ", r.prompt())

	_, err = r.handle(ctx, "/attach missing.txt")
	assert.Error(t, err)
	assert.Len(t, r.pending, 1)

	_, err = r.handle(ctx, "read this")
	require.NoError(t, err)
	assert.Empty(t, r.pending)

	msgs := app.Store.Messages(app.Store.ActiveID())
	require.NotEmpty(t, msgs)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "notes.md", msgs[0].Attachments[0].Name)
	assert.Equal(t, "read this", msgs[0].DisplayText)

	reqs := fake.ChatRequests()
	require.Len(t, reqs, 1)
}

func TestREPL_PaywallNotice(t *testing.T) {
	fake, app := newTestApp(t)
	fake.FailNext(gatewaytest.OpChat, 1, 402)
	var out bytes.Buffer
	r := newREPL(app, &out)

	_, err := r.handle(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "out of credits")
	assert.False(t, app.Chat.ShowPaywall(), "notice dismisses the paywall")

	msgs := app.Store.Messages(app.Store.ActiveID())
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Error)
}

func TestRunChat_PlainInput(t *testing.T) {
	_, app := newTestApp(t)
	var out bytes.Buffer

	err := RunChat(context.Background(), app, strings.NewReader("Hello\n\n/list\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "You said: Hello")
	assert.Contains(t, out.String(), "1 responses")
}

func TestStreamPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &streamPrinter{out: &out}
	m := &model.Message{ID: "a", Reasoning: "think", Content: model.TextContent("Hi")}
	p.update(m)
	m.Content = model.TextContent("Hi there")
	p.update(m)
	p.update(m)
	p.finish()

	assert.Equal(t, "think\n\nHi there\n", out.String())
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestRoot_ChatFromPipe(t *testing.T) {
	withFakeGateway(t)

	out, _, err := runRoot(t, "Hello\n/quit\n")
	require.NoError(t, err)
	assert.Contains(t, out, "You said: Hello")
}

func TestRoot_UnknownFlagIsUsageError(t *testing.T) {
	isolate(t)
	_, _, err := runRoot(t, "", "--bogus")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestRoot_InvalidConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[gateway]\nurl = \"ftp://example.com\"\n"), 0600))

	_, _, err := runRoot(t, "", "--config", path, "config", "show")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, ExitCode(err))
}

func TestConversationsCommand(t *testing.T) {
	fake := withFakeGateway(t)
	now := time.Now()
	fake.Seed(model.Conversation{ID: "conv-1", Title: "Trip plans", CreatedAt: now, UpdatedAt: now})

	out, _, err := runRoot(t, "", "conversations", "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "conv-1"`)

	out, _, err = runRoot(t, "", "conversations", "rename", "1", "Far", "away")
	require.NoError(t, err)
	assert.Contains(t, out, "Far away")
	conv, ok := fake.Conversation("conv-1")
	require.True(t, ok)
	assert.Equal(t, "Far away", conv.Title)

	_, _, err = runRoot(t, "", "conversations", "delete", "conv-")
	require.NoError(t, err)
	_, ok = fake.Conversation("conv-1")
	assert.False(t, ok)

	_, _, err = runRoot(t, "", "conversations", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, ExitCode(err))
}

func TestConversationsExport(t *testing.T) {
	fake := withFakeGateway(t)
	now := time.Now()
	conv := model.Conversation{ID: "conv-9", Title: "Notes", CreatedAt: now, UpdatedAt: now}
	conv.Messages = []model.Message{*model.NewUserMessage(model.TextContent("remember milk"))}
	fake.Seed(conv)
	dir := t.TempDir()

	out, _, err := runRoot(t, "", "conversations", "export", "conv-9", "--format", "json", "--out", dir)
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, dir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "remember milk")

	_, _, err = runRoot(t, "", "conversations", "export", "conv-9", "--format", "html", "--out", dir)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}

func TestConfigCommand(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	_, _, err := runRoot(t, "", "--config", path, "config", "set", "chat.watchdog_secs", "45")
	require.NoError(t, err)

	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Chat.WatchdogSecs)

	out, _, err := runRoot(t, "", "--config", path, "config", "get", "chat.watchdog_secs")
	require.NoError(t, err)
	assert.Equal(t, "45\n", out)

	t.Setenv("RIGRUN_CHAT_TOKEN", "secret")
	out, _, err = runRoot(t, "", "--config", path, "config", "get", "gateway.token")
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]\n", out)

	out, _, err = runRoot(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret")

	_, _, err = runRoot(t, "", "--config", path, "config", "set", "chat.watchdog_secs", "0")
	require.NoError(t, err, "zero falls back to the default")
	_, _, err = runRoot(t, "", "--config", path, "config", "set", "no.such.key", "1")
	assert.Equal(t, ExitUsageError, ExitCode(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret", "environment overrides are not saved")
}

func TestLogoutClearsCache(t *testing.T) {
	isolate(t)
	cachePath := filepath.Join(t.TempDir(), "conversations.json")
	t.Setenv("RIGRUN_CHAT_CACHE_PATH", cachePath)

	cache := storage.NewFileCache(cachePath)
	require.NoError(t, cache.Save([]model.ConversationMeta{{ID: "c1", Title: "Cached"}}))

	out, _, err := runRoot(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")
	_, err = os.Stat(cachePath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunFakeGateway_StopsOnCancel(t *testing.T) {
	isolate(t)
	var out bytes.Buffer
	o := &rootOptions{out: &out, errOut: &bytes.Buffer{}, logLevel: "error"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, o.runFakeGateway(ctx, "127.0.0.1:0", "tok"))
	assert.Contains(t, out.String(), "Fake gateway listening on http://127.0.0.1:")
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &usageError{err: errors.New("bad flag")}, ExitUsageError},
		{"validation", config.ValidateErrors{{Field: "gateway.url", Message: "bad"}}, ExitConfigError},
		{"config load", fmt.Errorf("%w: %w", errConfigLoad, errors.New("parse")), ExitConfigError},
		{"auth", fmt.Errorf("list: %w", gateway.ErrAuthFailed), ExitAuthError},
		{"payment", &gateway.APIError{Status: 402, Message: "pay"}, ExitPaymentError},
		{"not found", NewCommandError("conversations", "show", conversation.ErrNotFound), ExitNotFoundError},
		{"timeout", context.DeadlineExceeded, ExitTimeoutError},
		{"server", &gateway.APIError{Status: 503, Message: "down"}, ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestResolveConversation(t *testing.T) {
	metas := []model.ConversationMeta{{ID: "abc-1"}, {ID: "abc-2"}, {ID: "xyz"}}

	id, err := resolveConversation(metas, "2")
	require.NoError(t, err)
	assert.Equal(t, "abc-2", id)

	id, err = resolveConversation(metas, "xy")
	require.NoError(t, err)
	assert.Equal(t, "xyz", id)

	_, err = resolveConversation(metas, "abc")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = resolveConversation(metas, "4")
	assert.Error(t, err)

	_, err = resolveConversation(metas, "nope")
	assert.ErrorIs(t, err, conversation.ErrNotFound)

	_, err = resolveConversation(metas, "")
	assert.Error(t, err)
}

func TestTruncateAndPad(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	// Wide characters take two cells.
	assert.Equal(t, "日本…", Truncate("日本語テキスト", 5))
	assert.Equal(t, "ab   ", PadRight("ab", 5))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "12 B", formatSize(12))
	assert.Equal(t, "2.0 KB", formatSize(2048))
	assert.Equal(t, "1.5 MB", formatSize(3<<19))
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:9464"))
	assert.True(t, isLoopbackAddr("[::1]:9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
	assert.False(t, isLoopbackAddr(":9464"))
}
