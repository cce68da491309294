// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Gateway (remote chat service) configuration
	Gateway GatewayConfig `toml:"gateway" json:"gateway"`

	// Chat session behaviour
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Local metadata cache
	Cache CacheConfig `toml:"cache" json:"cache"`

	// Logging
	Log LogConfig `toml:"log" json:"log"`

	// Prometheus endpoint
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
}

// GatewayConfig contains remote service settings.
type GatewayConfig struct {
	URL   string `toml:"url" json:"url"`
	Token string `toml:"token" json:"token"`
	Model string `toml:"model" json:"model"`

	// RequestTimeoutSecs bounds non-streaming requests.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	Burst     int     `toml:"burst" json:"burst"`

	// SessionIdleMinutes expires the auth session after inactivity; 0 never expires.
	SessionIdleMinutes int `toml:"session_idle_minutes" json:"session_idle_minutes"`

	// Attribution headers sent with every request
	SiteURL  string `toml:"site_url" json:"site_url"`
	SiteName string `toml:"site_name" json:"site_name"`
}

// ChatConfig contains streaming and conversation settings.
type ChatConfig struct {
	// WatchdogSecs aborts a response after this long without a delta.
	WatchdogSecs int `toml:"watchdog_secs" json:"watchdog_secs"`

	// MaxAttachmentMB is the per-file size limit.
	MaxAttachmentMB int `toml:"max_attachment_mb" json:"max_attachment_mb"`

	// TitleMaxRunes bounds titles derived from the first message.
	TitleMaxRunes int `toml:"title_max_runes" json:"title_max_runes"`

	// ListLimit is the page size used when listing conversations.
	ListLimit int `toml:"list_limit" json:"list_limit"`
}

// CacheConfig contains local metadata cache settings.
type CacheConfig struct {
	// Driver is one of: file, sqlite, none.
	Driver string `toml:"driver" json:"driver"`
	Path   string `toml:"path" json:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Addr    string `toml:"addr" json:"addr"`
}

// WatchdogWindow returns Chat.WatchdogSecs as a duration.
func (c *Config) WatchdogWindow() time.Duration {
	return time.Duration(c.Chat.WatchdogSecs) * time.Second
}

// RequestTimeout returns Gateway.RequestTimeoutSecs as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutSecs) * time.Second
}

// SessionIdleTimeout returns Gateway.SessionIdleMinutes as a duration.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Gateway.SessionIdleMinutes) * time.Minute
}

// MaxAttachmentBytes returns Chat.MaxAttachmentMB in bytes.
func (c *Config) MaxAttachmentBytes() int64 {
	return int64(c.Chat.MaxAttachmentMB) << 20
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Gateway: GatewayConfig{
			URL:                "https://openrouter.ai/api/v1",
			Model:              "openrouter/auto",
			RequestTimeoutSecs: 30,
			RateLimit:          10,
			Burst:              5,
			SessionIdleMinutes: 0,
			SiteName:           "rigrun-chat",
		},

		Chat: ChatConfig{
			WatchdogSecs:    120,
			MaxAttachmentMB: 20,
			TitleMaxRunes:   60,
			ListLimit:       100,
		},

		Cache: CacheConfig{
			Driver: "file",
			Path:   "~/.rigrun-chat/cache/conversations.json",
		},

		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},

		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// SetDefaults fills zero values with defaults. Boolean settings are left
// alone since false is meaningful.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	if c.Gateway.URL == "" {
		c.Gateway.URL = d.Gateway.URL
	}
	if c.Gateway.Model == "" {
		c.Gateway.Model = d.Gateway.Model
	}
	if c.Gateway.RequestTimeoutSecs == 0 {
		c.Gateway.RequestTimeoutSecs = d.Gateway.RequestTimeoutSecs
	}
	if c.Gateway.Burst == 0 {
		c.Gateway.Burst = d.Gateway.Burst
	}
	if c.Gateway.SiteName == "" {
		c.Gateway.SiteName = d.Gateway.SiteName
	}

	if c.Chat.WatchdogSecs == 0 {
		c.Chat.WatchdogSecs = d.Chat.WatchdogSecs
	}
	if c.Chat.MaxAttachmentMB == 0 {
		c.Chat.MaxAttachmentMB = d.Chat.MaxAttachmentMB
	}
	if c.Chat.TitleMaxRunes == 0 {
		c.Chat.TitleMaxRunes = d.Chat.TitleMaxRunes
	}
	if c.Chat.ListLimit == 0 {
		c.Chat.ListLimit = d.Chat.ListLimit
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = d.Cache.Driver
	}
	if c.Cache.Path == "" {
		switch c.Cache.Driver {
		case "sqlite":
			c.Cache.Path = "~/.rigrun-chat/cache/conversations.db"
		default:
			c.Cache.Path = d.Cache.Path
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = d.Metrics.Addr
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-chat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect the token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default configuration file. TOML is tried first, then
// JSON, then built-in defaults. Dotenv files and environment overrides are
// applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads configuration from a specific file. Files ending in
// .json are decoded as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// DotEnvFiles are read by LoadDotEnv, in order. Variables already set in the
// environment are never overwritten.
var DotEnvFiles = []string{".env"}

// LoadDotEnv loads DotEnvFiles plus ~/.rigrun-chat/.env when they exist.
func LoadDotEnv() error {
	files := append([]string(nil), DotEnvFiles...)
	if dir, err := ConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, ".env"))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path.
// SECURITY: Written with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# rigrun-chat configuration file\n")
	sb.WriteString("# Generated by rigrun-chat - edit with care\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg to path as indented JSON.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns ValidateErrors when anything is
// wrong.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway
	if u, err := url.Parse(c.Gateway.URL); err != nil {
		add("gateway.url", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("gateway.url", "scheme must be http or https, got %q", u.Scheme)
	} else if u.Host == "" {
		add("gateway.url", "missing host")
	}
	if strings.TrimSpace(c.Gateway.Model) == "" {
		add("gateway.model", "must not be empty")
	}
	if c.Gateway.RequestTimeoutSecs < 1 || c.Gateway.RequestTimeoutSecs > 600 {
		add("gateway.request_timeout_secs", "must be between 1 and 600, got %d", c.Gateway.RequestTimeoutSecs)
	}
	if c.Gateway.RateLimit < 0 {
		add("gateway.rate_limit", "cannot be negative")
	}
	if c.Gateway.Burst < 0 {
		add("gateway.burst", "cannot be negative")
	}
	if c.Gateway.SessionIdleMinutes < 0 {
		add("gateway.session_idle_minutes", "cannot be negative")
	}

	// Chat
	if c.Chat.WatchdogSecs < 1 || c.Chat.WatchdogSecs > 3600 {
		add("chat.watchdog_secs", "must be between 1 and 3600, got %d", c.Chat.WatchdogSecs)
	}
	if c.Chat.MaxAttachmentMB < 1 || c.Chat.MaxAttachmentMB > 100 {
		add("chat.max_attachment_mb", "must be between 1 and 100, got %d", c.Chat.MaxAttachmentMB)
	}
	if c.Chat.TitleMaxRunes < 8 || c.Chat.TitleMaxRunes > 200 {
		add("chat.title_max_runes", "must be between 8 and 200, got %d", c.Chat.TitleMaxRunes)
	}
	if c.Chat.ListLimit < 1 {
		add("chat.list_limit", "must be positive")
	}

	// Cache
	switch strings.ToLower(c.Cache.Driver) {
	case "file", "sqlite":
		if strings.TrimSpace(c.Cache.Path) == "" {
			add("cache.path", "required for driver %q", c.Cache.Driver)
		}
	case "none":
	default:
		add("cache.driver", "invalid driver '%s', must be one of: file, sqlite, none", c.Cache.Driver)
	}

	// Log
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format", "invalid format '%s', must be one of: text, json", c.Log.Format)
	}

	// Metrics
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			add("metrics.addr", "invalid listen address: %v", err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - RIGRUN_CHAT_GATEWAY_URL: overrides gateway.url
//   - RIGRUN_CHAT_TOKEN: overrides gateway.token
//   - RIGRUN_CHAT_MODEL: overrides gateway.model
//   - RIGRUN_CHAT_WATCHDOG_SECS: overrides chat.watchdog_secs
//   - RIGRUN_CHAT_CACHE_DRIVER: overrides cache.driver
//   - RIGRUN_CHAT_CACHE_PATH: overrides cache.path
//   - RIGRUN_CHAT_LOG_LEVEL: overrides log.level
//   - RIGRUN_CHAT_LOG_FORMAT: overrides log.format
//   - RIGRUN_CHAT_METRICS_ADDR: overrides metrics.addr and enables metrics
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_CHAT_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}
	if v := os.Getenv("RIGRUN_CHAT_TOKEN"); v != "" {
		c.Gateway.Token = v
	}
	if v := os.Getenv("RIGRUN_CHAT_MODEL"); v != "" {
		c.Gateway.Model = v
	}
	if v := os.Getenv("RIGRUN_CHAT_WATCHDOG_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Chat.WatchdogSecs = secs
		}
	}
	if v := os.Getenv("RIGRUN_CHAT_CACHE_DRIVER"); v != "" {
		c.Cache.Driver = v
	}
	if v := os.Getenv("RIGRUN_CHAT_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("RIGRUN_CHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RIGRUN_CHAT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("RIGRUN_CHAT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.watchdog_secs").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	return []string{
		"version",
		"gateway.url",
		"gateway.token",
		"gateway.model",
		"gateway.request_timeout_secs",
		"gateway.rate_limit",
		"gateway.burst",
		"gateway.session_idle_minutes",
		"gateway.site_url",
		"gateway.site_name",
		"chat.watchdog_secs",
		"chat.max_attachment_mb",
		"chat.title_max_runes",
		"chat.list_limit",
		"cache.driver",
		"cache.path",
		"log.level",
		"log.format",
		"metrics.enabled",
		"metrics.addr",
	}
}

// =============================================================================
// COPY AND DISPLAY
// =============================================================================

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the config as indented JSON with the token redacted.
// SECURITY: Secrets must not appear in logs or debug output.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Gateway.Token != "" {
		safe.Gateway.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
