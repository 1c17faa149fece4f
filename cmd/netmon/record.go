package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/netmon/internal/archive"
	"github.com/dgnsrekt/netmon/internal/cdp"
	"github.com/dgnsrekt/netmon/internal/config"
	"github.com/dgnsrekt/netmon/internal/monitor"
	"github.com/dgnsrekt/netmon/internal/notify"
	"github.com/dgnsrekt/netmon/internal/render"
)

type recordFlags struct {
	jsonPath  string
	csvPath   string
	wait      time.Duration
	quiet     time.Duration
	timeout   time.Duration
	headless  bool
	attach    bool
	archive   bool
	label     string
	notifyURL string
}

func newRecordCmd(cfg *config.Config) *cobra.Command {
	f := &recordFlags{}

	cmd := &cobra.Command{
		Use:   "record <url>",
		Short: "Record the network activity of one page load and print a report",
		Example: `netmon record https://example.com --json report.json --csv events.csv
netmon record https://example.com --attach --wait 5s --archive --label nightly`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.notifyURL == "" {
				f.notifyURL = cfg.NotifyURL
			}
			return runRecord(cmd.Context(), cfg, f, args[0])
		},
	}

	cmd.Flags().StringVar(&f.jsonPath, "json", "", "write the JSON report to this file")
	cmd.Flags().StringVar(&f.csvPath, "csv", "", "write the CSV event export to this file")
	cmd.Flags().DurationVar(&f.wait, "wait", 0, "keep recording this long after the page has loaded")
	cmd.Flags().DurationVar(&f.quiet, "quiet", 500*time.Millisecond, "network idle period that ends the recording")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 60*time.Second, "upper bound for the whole recording")
	cmd.Flags().BoolVar(&f.headless, "headless", true, "run the launched browser headless")
	cmd.Flags().BoolVar(&f.attach, "attach", false, "attach to the browser at NETMON_CDP_URL instead of launching one")
	cmd.Flags().BoolVar(&f.archive, "archive", false, "store the report in the archive directory")
	cmd.Flags().StringVar(&f.label, "label", "", "label for the archived report")
	cmd.Flags().StringVar(&f.notifyURL, "notify", "", "POST a plain-text summary to this URL (default NETMON_NOTIFY_URL)")
	return cmd
}

func runRecord(ctx context.Context, cfg *config.Config, f *recordFlags, target string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		client *cdp.Client
		err    error
	)
	if f.attach {
		client, err = cdp.Connect(ctx, cfg.GetCDPURL(), cfg.TabURLFilter)
	} else {
		client, err = cdp.Launch(ctx, f.headless)
	}
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	opts, err := cfg.MonitorOptions()
	if err != nil {
		return err
	}
	opts.OnError = func(err error, where string) {
		slog.Debug("capture degraded", "context", where, "error", err)
	}
	mon, err := monitor.New(client, opts)
	if err != nil {
		return err
	}

	slog.Info("recording", "url", target, "wait", f.wait)
	err = mon.MonitorDuring(ctx, func(ctx context.Context) error {
		if err := client.Navigate(ctx, target); err != nil {
			return err
		}
		if f.wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.wait):
			}
		}
		return client.WaitIdle(ctx, f.quiet)
	})
	if err != nil {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		slog.Warn("recording timed out, reporting what was captured", "timeout", f.timeout, "error", err)
	}

	rep := mon.Report()
	if err := render.Summary(os.Stdout, target, rep); err != nil {
		slog.Warn("summary render failed", "error", err)
	}

	reportJSON, err := mon.ExportJSON()
	if err != nil {
		return err
	}
	csv := mon.ExportCSV()

	if f.jsonPath != "" {
		if err := os.WriteFile(f.jsonPath, []byte(reportJSON), 0o644); err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
		slog.Info("json report written", "path", f.jsonPath)
	}
	if f.csvPath != "" {
		if err := os.WriteFile(f.csvPath, []byte(csv), 0o644); err != nil {
			return fmt.Errorf("write csv export: %w", err)
		}
		slog.Info("csv export written", "path", f.csvPath)
	}

	if f.archive {
		store, err := archive.NewStore(cfg.ArchiveDir)
		if err != nil {
			return fmt.Errorf("open report archive: %w", err)
		}
		st := mon.Stats()
		meta, err := store.Save(archive.Meta{
			SessionID:            st.SessionID,
			Label:                f.label,
			Events:               st.Events,
			TotalRequests:        rep.Summary.TotalRequests,
			TotalResponses:       rep.Summary.TotalResponses,
			TotalFailed:          rep.Summary.TotalFailed,
			MonitoringDurationMS: rep.Summary.MonitoringDuration,
		}, reportJSON, csv)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "archived report %s in %s\n", meta.ID, cfg.ArchiveDir)
	}

	if f.notifyURL != "" {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpClient := &http.Client{Timeout: 10 * time.Second}
		if err := notify.Send(notifyCtx, httpClient, f.notifyURL, notify.SummaryMessage(target, rep)); err != nil {
			slog.Warn("notification failed", "error", err)
		}
	}
	return nil
}
