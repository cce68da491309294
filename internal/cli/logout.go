// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

func newLogoutCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear cached conversations and input history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			if err := clearLocalState(cfg); err != nil {
				return NewCommandError("logout", "clear", err)
			}
			fmt.Fprintln(o.out, "Local conversation cache cleared.")
			if cfg.Gateway.Token != "" {
				fmt.Fprintln(o.out, DimStyle.Render("The gateway token is still set in your config or environment."))
			}
			return nil
		},
	}
}

// clearLocalState removes the metadata cache and chat input history.
func clearLocalState(cfg *config.Config) error {
	cache, err := storage.Open(cfg.Cache.Driver, cfg.Cache.Path)
	if err != nil {
		return err
	}
	errs := []error{cache.Clear(), cache.Close()}

	if dir, err := config.ConfigDir(); err == nil {
		if err := os.Remove(filepath.Join(dir, "chat_history")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
