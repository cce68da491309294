// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/gatewaytest"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/server"
)

func newFakeGatewayCommand(o *rootOptions) *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "fake-gateway",
		Short: "Serve an in-memory gateway that echoes messages",
		Long: `Serve an in-memory gateway for local development.

Chat requests stream back the last user message. Conversations live in
memory until the process exits. Point the client at it with:

  RIGRUN_CHAT_GATEWAY_URL=http://127.0.0.1:8787 rigrun-chat`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return o.runFakeGateway(ctx, addr, token)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "require this bearer token")
	return cmd
}

func (o *rootOptions) runFakeGateway(ctx context.Context, addr, token string) error {
	level := o.logLevel
	if level == "" {
		level = "info"
	}
	logger, err := logging.Setup(logging.Options{Level: level, Output: o.errOut})
	if err != nil {
		return &usageError{err: err}
	}

	fake := gatewaytest.New()
	if token != "" {
		fake.RequireToken(token)
	}
	srv := server.New(server.Config{Addr: addr, Logger: logger})
	srv.Fallback(fake.Handler())

	bound, err := srv.Start()
	if err != nil {
		return err
	}
	fmt.Fprintf(o.out, "Fake gateway listening on http://%s\n", bound)

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
