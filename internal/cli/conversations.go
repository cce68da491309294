// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

func newConversationsCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "List and manage conversations",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				metas := refreshed(ctx, app, o)
				if asJSON {
					if metas == nil {
						metas = []model.ConversationMeta{}
					}
					enc := json.NewEncoder(o.out)
					enc.SetIndent("", "  ")
					return enc.Encode(metas)
				}
				if len(metas) == 0 {
					fmt.Fprintln(o.out, "No conversations.")
					return nil
				}
				writeConversationList(o.out, metas, "", GetTerminalWidth())
				return nil
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	show := &cobra.Command{
		Use:   "show N|ID",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				id, err := resolveConversation(refreshed(ctx, app, o), args[0])
				if err != nil {
					return err
				}
				if _, err := app.Store.Load(ctx, id); err != nil {
					return NewCommandError("conversations", "show", err)
				}
				newREPL(app, o.out).printHistory()
				return nil
			})
		},
	}

	rename := &cobra.Command{
		Use:   "rename N|ID TITLE...",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				id, err := resolveConversation(refreshed(ctx, app, o), args[0])
				if err != nil {
					return err
				}
				title := strings.Join(args[1:], " ")
				if err := app.Store.Rename(ctx, id, title); err != nil {
					return NewCommandError("conversations", "rename", err)
				}
				fmt.Fprintf(o.out, "Renamed %s to %q\n", id, strings.TrimSpace(title))
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:     "delete N|ID",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				id, err := resolveConversation(refreshed(ctx, app, o), args[0])
				if err != nil {
					return err
				}
				if err := app.Store.Delete(ctx, id); err != nil {
					return NewCommandError("conversations", "delete", err)
				}
				fmt.Fprintf(o.out, "Deleted %s\n", id)
				return nil
			})
		},
	}

	var format, outDir string
	exp := &cobra.Command{
		Use:   "export N|ID",
		Short: "Export a conversation to Markdown or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				id, err := resolveConversation(refreshed(ctx, app, o), args[0])
				if err != nil {
					return err
				}
				path, err := exportConversation(ctx, app, id, format, outDir)
				if err != nil {
					return NewCommandError("conversations", "export", err)
				}
				fmt.Fprintln(o.out, path)
				return nil
			})
		},
	}
	exp.Flags().StringVarP(&format, "format", "f", "md", "export format: md or json")
	exp.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")

	cmd.AddCommand(list, show, rename, del, exp)
	return cmd
}

// exportConversation loads id and writes it to dir in format.
func exportConversation(ctx context.Context, app *App, id, format, dir string) (string, error) {
	conv, err := app.Store.Load(ctx, id)
	if err != nil {
		return "", err
	}
	opts := export.DefaultOptions()
	opts.OutputDir = dir
	opts.Model = app.Gateway.Model()
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return "", &usageError{err: err}
	}
	return export.ExportToFile(conv, exporter, opts)
}

// withApp runs fn with a wired App that logs to stderr. Background remote
// writes finish before it returns.
func (o *rootOptions) withApp(ctx context.Context, fn func(context.Context, *App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	app, err := o.openApp(ctx, cfg, o.errOut)
	if err != nil {
		return err
	}
	if err := fn(ctx, app); err != nil {
		_ = app.Close()
		return err
	}
	return app.Close()
}

// refreshed returns the server list, or the cached list with a warning when
// the gateway is unreachable.
func refreshed(ctx context.Context, app *App, o *rootOptions) []model.ConversationMeta {
	if err := app.Store.Refresh(ctx); err != nil {
		fmt.Fprintln(o.errOut, WarningStyle.Render("Showing cached conversations: "+err.Error()))
	}
	return app.Store.Conversations()
}
