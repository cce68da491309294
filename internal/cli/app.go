// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jeranaias/rigrun-chat/internal/attachment"
	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/gateway"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/server"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

// App is the wired application shared by every command.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Session *session.Session
	Gateway *gateway.Client
	Cache   storage.MetaCache
	Store   *conversation.Store
	Chat    *chat.Orchestrator
	Usage   *telemetry.UsageTracker

	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics

	metricsServer *server.Server
}

// NewApp builds an App from cfg. The caller must Close it.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	cache, err := storage.Open(cfg.Cache.Driver, cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open conversation cache: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	sess := session.New(session.Config{
		Token:       cfg.Gateway.Token,
		User:        os.Getenv("USER"),
		IdleTimeout: cfg.SessionIdleTimeout(),
	})

	// Zero disables limiting in config; the client treats zero as its default.
	rateLimit := cfg.Gateway.RateLimit
	if rateLimit == 0 {
		rateLimit = -1
	}
	gw := gateway.New(gateway.Options{
		BaseURL:   cfg.Gateway.URL,
		Model:     cfg.Gateway.Model,
		Session:   sess,
		Timeout:   cfg.RequestTimeout(),
		RateLimit: rateLimit,
		Burst:     cfg.Gateway.Burst,
		SiteURL:   cfg.Gateway.SiteURL,
		SiteName:  cfg.Gateway.SiteName,
		Logger:    logger,
	})

	store := conversation.New(conversation.Options{
		Remote:        gw,
		Cache:         cache,
		Logger:        logger,
		Metrics:       metrics,
		ListLimit:     cfg.Chat.ListLimit,
		RemoteTimeout: cfg.RequestTimeout(),
		TitleMaxRunes: cfg.Chat.TitleMaxRunes,
	})

	usage := telemetry.NewUsageTracker()
	orch := chat.New(chat.Options{
		Gateway:        gw,
		Store:          store,
		Encoder:        attachment.NewEncoder(attachment.Options{MaxSize: cfg.MaxAttachmentBytes()}),
		Logger:         logger,
		Metrics:        metrics,
		Usage:          usage,
		WatchdogWindow: cfg.WatchdogWindow(),
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Session:  sess,
		Gateway:  gw,
		Cache:    cache,
		Store:    store,
		Chat:     orch,
		Usage:    usage,
		Registry: reg,
		Metrics:  metrics,
	}, nil
}

// StartMetrics serves /metrics when metrics are enabled. It returns the bound
// address, or nil when disabled.
func (a *App) StartMetrics() (net.Addr, error) {
	if !a.Config.Metrics.Enabled || a.metricsServer != nil {
		return nil, nil
	}
	srv := server.New(server.Config{
		Addr:         a.Config.Metrics.Addr,
		Logger:       a.Logger,
		LoopbackOnly: isLoopbackAddr(a.Config.Metrics.Addr),
	})
	srv.Handle(http.MethodGet, "/metrics", telemetry.Handler(a.Registry))
	addr, err := srv.Start()
	if err != nil {
		return nil, fmt.Errorf("start metrics server: %w", err)
	}
	a.metricsServer = srv
	return addr, nil
}

// Close stops any in-flight response, waits for background writes and ends the
// session.
func (a *App) Close() error {
	a.Chat.StopGeneration()
	a.Chat.Wait()

	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.Session.Close()
	return errors.Join(errs...)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
