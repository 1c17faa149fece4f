package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/netmon/internal/api"
	"github.com/dgnsrekt/netmon/internal/archive"
	"github.com/dgnsrekt/netmon/internal/cdp"
	"github.com/dgnsrekt/netmon/internal/config"
	"github.com/dgnsrekt/netmon/internal/metrics"
	"github.com/dgnsrekt/netmon/internal/monitor"
	"github.com/dgnsrekt/netmon/internal/netutil"
	"github.com/dgnsrekt/netmon/internal/storage"
	"github.com/dgnsrekt/netmon/internal/stream"
	"github.com/dgnsrekt/netmon/internal/types"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach to a running browser and expose the monitor over HTTP",
		Example: `NETMON_CDP_URL=http://127.0.0.1:9222 netmon serve
netmon serve --start`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg, autoStart)
		},
	}
	cmd.Flags().BoolVar(&autoStart, "start", false, "start a monitoring session as soon as the server is up")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, autoStart bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	slog.Info("netmon config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"bind_addr", cfg.BindAddr,
		"bind_auto_fallback", cfg.BindAutoFallback,
		"bind_candidates", cfg.BindCandidates,
		"max_events", cfg.MaxEvents,
		"tap_file", cfg.TapFile,
		"archive_dir", cfg.ArchiveDir,
		"log_level", cfg.LogLevel,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts, err := cfg.MonitorOptions()
	if err != nil {
		return err
	}
	opts.Metrics = metrics.New(reg)

	broker := stream.NewBroker(cfg.StreamBuffer)
	sinks := []func(types.NetworkEvent){broker.Publish}

	if cfg.TapFile != "" {
		tap, err := storage.NewJSONLWriter(cfg.TapFile, cfg.StreamBuffer, cfg.TapMaxSizeMB)
		if err != nil {
			return fmt.Errorf("open event tap: %w", err)
		}
		defer func() {
			if err := tap.Close(); err != nil {
				slog.Warn("event tap close failed", "error", err)
			}
			if n := tap.Dropped(); n > 0 {
				slog.Warn("event tap dropped events", "dropped", n)
			}
		}()
		sinks = append(sinks, tap.Sink())
	}
	opts.Sink = fanOut(sinks...)

	store, err := archive.NewStore(cfg.ArchiveDir)
	if err != nil {
		return fmt.Errorf("open report archive: %w", err)
	}

	client, err := cdp.Connect(ctx, cfg.GetCDPURL(), cfg.TabURLFilter)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	mon, err := monitor.New(client, opts)
	if err != nil {
		return err
	}
	if autoStart {
		if err := mon.Start(ctx); err != nil {
			return err
		}
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindCandidates, cfg.BindAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address (preferred %s): %w", cfg.BindAddr, err)
	}

	srv := &http.Server{
		Handler: api.NewServer(mon, api.Deps{
			Archive:  store,
			Broker:   broker,
			Gatherer: reg,
			Tabs:     client.Tabs,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ln.Addr().String()
		slog.Info("netmon listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("netmon shutdown failed", "error", err)
	}
	if mon.IsActive() {
		if err := mon.Stop(); err != nil {
			slog.Warn("monitor stop failed", "error", err)
		}
	}
	slog.Info("netmon stopped", "stream_dropped", broker.Dropped())
	return nil
}

func fanOut(sinks ...func(types.NetworkEvent)) func(types.NetworkEvent) {
	return func(ev types.NetworkEvent) {
		for _, sink := range sinks {
			sink(ev)
		}
	}
}
