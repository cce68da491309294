// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears every override variable.
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
	old := DotEnvFiles
	DotEnvFiles = nil
	t.Cleanup(func() { DotEnvFiles = old })
	return home
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.WatchdogWindow() != 120*time.Second {
		t.Errorf("WatchdogWindow() = %v, want 120s", cfg.WatchdogWindow())
	}
	if cfg.MaxAttachmentBytes() != 20<<20 {
		t.Errorf("MaxAttachmentBytes() = %d, want %d", cfg.MaxAttachmentBytes(), 20<<20)
	}
	if cfg.Chat.TitleMaxRunes != 60 {
		t.Errorf("TitleMaxRunes = %d, want 60", cfg.Chat.TitleMaxRunes)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad scheme", func(c *Config) { c.Gateway.URL = "ftp://example.com" }, "gateway.url"},
		{"no host", func(c *Config) { c.Gateway.URL = "https://" }, "gateway.url"},
		{"empty model", func(c *Config) { c.Gateway.Model = "  " }, "gateway.model"},
		{"negative rate", func(c *Config) { c.Gateway.RateLimit = -1 }, "gateway.rate_limit"},
		{"zero watchdog", func(c *Config) { c.Chat.WatchdogSecs = 0 }, "chat.watchdog_secs"},
		{"huge attachment", func(c *Config) { c.Chat.MaxAttachmentMB = 500 }, "chat.max_attachment_mb"},
		{"unknown driver", func(c *Config) { c.Cache.Driver = "redis" }, "cache.driver"},
		{"none driver needs no path", func(c *Config) { c.Cache.Driver = "none"; c.Cache.Path = "" }, ""},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad metrics addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "nope" }, "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want ValidateErrors", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want error on %s", err, tt.field)
			}
		})
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[gateway]
url = "http://localhost:8080"
model = "test/model"

[chat]
watchdog_secs = 30

[cache]
driver = "sqlite"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Gateway.URL != "http://localhost:8080" {
		t.Errorf("Gateway.URL = %q, want %q", cfg.Gateway.URL, "http://localhost:8080")
	}
	if cfg.Gateway.Model != "test/model" {
		t.Errorf("Gateway.Model = %q, want %q", cfg.Gateway.Model, "test/model")
	}
	if cfg.Chat.WatchdogSecs != 30 {
		t.Errorf("Chat.WatchdogSecs = %d, want 30", cfg.Chat.WatchdogSecs)
	}
	if cfg.Chat.MaxAttachmentMB != 20 {
		t.Errorf("Chat.MaxAttachmentMB = %d, want default 20", cfg.Chat.MaxAttachmentMB)
	}
	if !strings.HasSuffix(cfg.Cache.Path, ".db") {
		t.Errorf("Cache.Path = %q, want sqlite default", cfg.Cache.Path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestLoadFromPath_JSON(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"log":{"level":"debug","format":"json"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[chat]\nwatchdog_secs = -5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Error("LoadFromPath() should reject a negative watchdog")
	}
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Model != Default().Gateway.Model {
		t.Errorf("Gateway.Model = %q, want default", cfg.Gateway.Model)
	}
}

func TestLoad_PrefersHomeTOML(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".rigrun-chat")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[gateway]\nmodel = \"from/toml\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"gateway":{"model":"from/json"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Model != "from/toml" {
		t.Errorf("Gateway.Model = %q, want %q", cfg.Gateway.Model, "from/toml")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RIGRUN_CHAT_GATEWAY_URL", "http://gw.local")
	t.Setenv("RIGRUN_CHAT_TOKEN", "secret")
	t.Setenv("RIGRUN_CHAT_MODEL", "env/model")
	t.Setenv("RIGRUN_CHAT_WATCHDOG_SECS", "45")
	t.Setenv("RIGRUN_CHAT_CACHE_DRIVER", "none")
	t.Setenv("RIGRUN_CHAT_LOG_LEVEL", "warn")
	t.Setenv("RIGRUN_CHAT_METRICS_ADDR", ":9999")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Gateway.URL != "http://gw.local" {
		t.Errorf("Gateway.URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.Token != "secret" {
		t.Errorf("Gateway.Token = %q", cfg.Gateway.Token)
	}
	if cfg.Gateway.Model != "env/model" {
		t.Errorf("Gateway.Model = %q", cfg.Gateway.Model)
	}
	if cfg.Chat.WatchdogSecs != 45 {
		t.Errorf("Chat.WatchdogSecs = %d, want 45", cfg.Chat.WatchdogSecs)
	}
	if cfg.Cache.Driver != "none" {
		t.Errorf("Cache.Driver = %q", cfg.Cache.Driver)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9999" {
		t.Errorf("Metrics = %+v, want enabled on :9999", cfg.Metrics)
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("RIGRUN_CHAT_MODEL=dotenv/model\nRIGRUN_CHAT_TOKEN=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	DotEnvFiles = []string{envFile}

	// Real environment wins over the file.
	t.Setenv("RIGRUN_CHAT_TOKEN", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gateway.Model != "dotenv/model" {
		t.Errorf("Gateway.Model = %q, want %q", cfg.Gateway.Model, "dotenv/model")
	}
	if cfg.Gateway.Token != "from-env" {
		t.Errorf("Gateway.Token = %q, want %q", cfg.Gateway.Token, "from-env")
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("chat.watchdog_secs", "90"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Chat.WatchdogSecs != 90 {
		t.Errorf("Chat.WatchdogSecs = %d, want 90", cfg.Chat.WatchdogSecs)
	}
	if err := cfg.Set("metrics.enabled", "yes"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be true")
	}
	if err := cfg.Set("gateway.rate_limit", "2.5"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	v, err := cfg.Get("gateway.rate_limit")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v.(float64) != 2.5 {
		t.Errorf("Get(gateway.rate_limit) = %v, want 2.5", v)
	}

	if _, err := cfg.Get("gateway.nope"); err == nil {
		t.Error("Get(unknown) should fail")
	}
	if err := cfg.Set("chat.watchdog_secs", "soon"); err == nil {
		t.Error("Set(non-integer) should fail")
	}

	for _, key := range Keys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "sk-very-secret"
	s := cfg.String()
	if strings.Contains(s, "sk-very-secret") {
		t.Error("String() leaked the token")
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Error("String() should mark the token as redacted")
	}
	if cfg.Gateway.Token != "sk-very-secret" {
		t.Error("String() must not modify the config")
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Gateway.Model = "saved/model"
	cfg.Chat.WatchdogSecs = 15

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Gateway.Model != "saved/model" || loaded.Chat.WatchdogSecs != 15 {
		t.Errorf("round trip = %+v / %+v", loaded.Gateway, loaded.Chat)
	}
}
