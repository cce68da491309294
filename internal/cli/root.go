// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// logFileName receives logs while the interactive chat owns the terminal.
const logFileName = "rigrun-chat.log"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	model      string
	metrics    bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// Execute runs the command line with args and returns the exit code.
func Execute(args []string) int {
	cmd := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// NewRootCommand builds the command tree. The bare command starts a chat.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	o := &rootOptions{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "rigrun-chat",
		Short:         "Chat with a language-model gateway from the terminal",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			gin.SetMode(gin.ReleaseMode)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runChat(cmd.Context())
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "config file (default ~/.rigrun-chat/config.toml)")
	flags.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVarP(&o.model, "model", "m", "", "model id sent to the gateway")
	flags.BoolVar(&o.metrics, "metrics", false, "serve Prometheus metrics on metrics.addr")

	root.AddCommand(
		newChatCommand(o),
		newConversationsCommand(o),
		newConfigCommand(o),
		newLogoutCommand(o),
		newFakeGatewayCommand(o),
	)
	return root
}

func newChatCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runChat(cmd.Context())
		},
	}
}

func (o *rootOptions) runChat(ctx context.Context) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	// The REPL owns stdout, so logs go to a file when it is interactive.
	logOut := o.errOut
	if o.in == os.Stdin && IsTTY() {
		if f, err := openLogFile(); err == nil {
			defer f.Close()
			logOut = f
		}
	}
	app, err := o.openApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer app.Close()
	return RunChat(ctx, app, o.in, o.out)
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadConfig reads configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfigLoad, err)
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.model != "" {
		cfg.Gateway.Model = o.model
	}
	if o.metrics {
		cfg.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// openApp sets up logging, wires the App and starts the metrics server.
func (o *rootOptions) openApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	logger, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: logOut,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfigLoad, err)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	addr, err := app.StartMetrics()
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if addr != nil {
		logger.InfoContext(ctx, "metrics enabled", slog.String("addr", "http://"+addr.String()+"/metrics"))
	}
	return app, nil
}

func openLogFile() (*os.File, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
}
