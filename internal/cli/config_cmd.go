// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newConfigCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(o.out, cfg.String())
			return nil
		},
	}

	get := &cobra.Command{
		Use:       "get KEY",
		Short:     "Print one configuration value",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return &usageError{err: err}
			}
			if strings.EqualFold(args[0], "gateway.token") && v != "" {
				v = "[REDACTED]"
			}
			fmt.Fprintln(o.out, v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a value in the configuration file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := o.writablePath()
			if err != nil {
				return err
			}
			return NewCommandError("config", "set", setConfigValue(path, args[0], args[1]))
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.writablePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(o.out, p)
			return nil
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List configuration keys",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, k := range config.Keys() {
				fmt.Fprintln(o.out, k)
			}
		},
	}

	cmd.AddCommand(show, get, set, path, keys)
	return cmd
}

// writablePath returns --config, or the default TOML path.
func (o *rootOptions) writablePath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	p, err := config.ConfigPathTOML()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errConfigLoad, err)
	}
	return p, nil
}

// setConfigValue edits the file at path without baking in environment
// overrides.
func setConfigValue(path, key, value string) error {
	cfg := config.Default()
	isJSON := strings.HasSuffix(path, ".json")
	if _, err := os.Stat(path); err == nil {
		load := config.LoadTOML
		if isJSON {
			load = config.LoadJSON
		}
		if err := load(cfg, path); err != nil {
			return fmt.Errorf("%w: %w", errConfigLoad, err)
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return &usageError{err: err}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if isJSON {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}
