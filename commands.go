package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/cantalupo555/simplifi-exporter/internal/browser"
	"github.com/cantalupo555/simplifi-exporter/internal/config"
	"github.com/cantalupo555/simplifi-exporter/internal/datefilter"
	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/history"
	"github.com/cantalupo555/simplifi-exporter/internal/logfields"
	"github.com/cantalupo555/simplifi-exporter/internal/metrics"
	"github.com/cantalupo555/simplifi-exporter/internal/orchestrator"
	"github.com/cantalupo555/simplifi-exporter/internal/schedule"
	"github.com/cantalupo555/simplifi-exporter/internal/session"
)

// CLI definition & global flags. Flags override the environment and .env.
type CLI struct {
	EnvFile       string           `name:"env-file" help:"Dotenv file to load" default:".env" type:"path"`
	DownloadDir   string           `name:"download-dir" help:"Directory for exported CSV files"`
	SessionFile   string           `name:"session-file" help:"Saved session file"`
	ScreenshotDir string           `name:"screenshot-dir" help:"Directory for failure screenshots"`
	HistoryDB     string           `name:"history-db" help:"Export history database"`
	Headless      bool             `help:"Run the browser without a window (MFA then cannot be completed)"`
	Browser       string           `help:"Chrome/Chromium executable (auto-detect if empty)"`
	Profile       string           `help:"Site profile YAML overriding the built-in selectors" type:"path"`
	Verbose       bool             `short:"v" help:"Enable verbose logging"`
	ClearAuth     bool             `name:"clear-auth" help:"Remove the saved session and exit"`
	Version       kong.VersionFlag `name:"version" help:"Show version and exit"`

	Export   ExportCmd   `cmd:"" default:"withargs" help:"Log in if needed and export transactions (default)"`
	Reset    ResetCmd    `cmd:"" help:"Remove the saved session"`
	Schedule ScheduleCmd `cmd:"" help:"Run the export on a cron schedule"`
	History  HistoryCmd  `cmd:"" help:"Show recent export runs"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the environment, applies flag overrides and validates.
func (c *CLI) loadConfig() (*config.Config, *config.Site, error) {
	cfg, err := config.Load(c.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	c.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	site, err := config.LoadSite(cfg.ProfilePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, site, nil
}

func (c *CLI) apply(cfg *config.Config) {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.DownloadDir, c.DownloadDir)
	override(&cfg.SessionFile, c.SessionFile)
	override(&cfg.ScreenshotDir, c.ScreenshotDir)
	override(&cfg.HistoryDB, c.HistoryDB)
	override(&cfg.BrowserPath, c.Browser)
	override(&cfg.ProfilePath, c.Profile)
	if c.Headless {
		cfg.Headless = true
	}
}

// app bundles what the commands share.
type app struct {
	cfg     *config.Config
	site    *config.Site
	store   *session.Store
	history history.Store
	orch    *orchestrator.Orchestrator
	logger  *slog.Logger
}

func (c *CLI) newApp(rec metrics.Recorder) (*app, error) {
	cfg, site, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	hist := openHistory(cfg.HistoryDB, logger)

	bcfg := browser.DefaultConfig()
	bcfg.ExecPath = cfg.BrowserPath
	bcfg.Headless = cfg.Headless
	bcfg.DownloadDir = cfg.DownloadDir
	bcfg.IgnoreHosts = site.IgnoreHosts

	store := session.NewStore(cfg.SessionFile)
	return &app{
		cfg:     cfg,
		site:    site,
		store:   store,
		history: hist,
		logger:  logger,
		orch: &orchestrator.Orchestrator{
			Config:   cfg,
			Site:     site,
			Store:    store,
			Launcher: &orchestrator.ChromeLauncher{Config: bcfg, Logger: logger},
			History:  hist,
			Metrics:  rec,
			Logger:   logger,
		},
	}, nil
}

func (a *app) Close() {
	if err := a.history.Close(); err != nil {
		a.logger.Warn("⚠️ Could not close export history", logfields.Error(err))
	}
}

// openHistory opens the ledger. A ledger that cannot be opened disables
// history for the run instead of failing it.
func openHistory(path string, logger *slog.Logger) history.Store {
	if path == "" {
		return history.Nop{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("⚠️ Export history disabled", logfields.Error(serrors.PersistenceWarning("history", err)))
		return history.Nop{}
	}
	h, err := history.Open(path)
	if err != nil {
		logger.Warn("⚠️ Export history disabled", logfields.Error(serrors.PersistenceWarning("history", err)))
		return history.Nop{}
	}
	return h
}

// ExportCmd runs one export. Two optional positional dates narrow it.
type ExportCmd struct {
	Start string `arg:"" optional:"" help:"First day to export (YYYY-MM-DD)"`
	End   string `arg:"" optional:"" help:"Last day to export (YYYY-MM-DD)"`
}

// Run executes the export command.
func (e *ExportCmd) Run(ctx context.Context, root *CLI) error {
	a, err := root.newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if root.ClearAuth {
		return reset(a, os.Stdout)
	}

	dr, err := datefilter.NewDateRange(e.Start, e.End)
	if err != nil {
		return serrors.ConfigInvalid("date range", err.Error())
	}

	stats, err := a.orch.Run(ctx, orchestrator.Request{Range: dr})
	stats.Print(os.Stdout)
	return err
}

// ResetCmd removes the saved session.
type ResetCmd struct{}

// Run executes the reset command.
func (r *ResetCmd) Run(root *CLI) error {
	a, err := root.newApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return reset(a, os.Stdout)
}

func reset(a *app, w io.Writer) error {
	removed, err := a.orch.Reset()
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(w, "✓ Saved session removed: %s\n", a.store.Path())
	} else {
		fmt.Fprintf(w, "No saved session at %s\n", a.store.Path())
	}
	return nil
}

// ScheduleCmd runs the export on a cron schedule until interrupted.
type ScheduleCmd struct {
	Cron        string `help:"Crontab (five fields, local time)" default:"${default_cron}"`
	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address (e.g. :9464)"`
	RunNow      bool   `name:"run-now" help:"Also run once immediately"`
}

// Run executes the schedule command.
func (s *ScheduleCmd) Run(ctx context.Context, root *CLI) error {
	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)

	a, err := root.newApp(rec)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if last, err := a.history.LastSuccess(ctx); err == nil && last != nil {
		rec.SetLastSuccess(last.FinishedAt)
	}

	sched, err := schedule.New(logger)
	if err != nil {
		return err
	}
	job, err := sched.Add(ctx, "export", s.Cron, func(ctx context.Context) error {
		stats, err := a.orch.Run(ctx, orchestrator.Request{})
		logger.Info(stats.Summary(), logfields.Outcome(outcomeOf(err)))
		return err
	})
	if err != nil {
		_ = sched.Stop()
		return serrors.ConfigInvalid("cron", err.Error())
	}

	var srv *http.Server
	if s.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(reg))
		srv = &http.Server{Addr: s.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics", slog.String("addr", s.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("❌ Metrics server failed", logfields.Error(err))
			}
		}()
	}

	sched.Start()
	if s.RunNow {
		if err := job.RunNow(); err != nil {
			logger.Warn("⚠️ Could not start immediate run", logfields.Error(err))
		}
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("⚠️ Metrics server shutdown", logfields.Error(err))
		}
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("⚠️ Scheduler shutdown", logfields.Error(err))
	}
	logger.Info("Scheduler stopped",
		slog.Int64("runs", sched.Runs()), slog.Int64("failures", sched.Failures()))
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return string(metrics.OutcomeSuccess)
	case serrors.IsKind(err, serrors.KindCanceled):
		return string(metrics.OutcomeCanceled)
	default:
		return string(metrics.OutcomeFailed)
	}
}

// HistoryCmd lists recent runs from the export history.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of runs to show" default:"10"`
}

// Run executes the history command.
func (h *HistoryCmd) Run(ctx context.Context, root *CLI) error {
	cfg, err := config.Load(root.EnvFile)
	if err != nil {
		return err
	}
	root.apply(cfg)
	if cfg.HistoryDB == "" {
		return serrors.ConfigInvalid(config.EnvHistoryDB, "is empty, history is disabled")
	}
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return serrors.ConfigInvalid(config.EnvHistoryDB, err.Error())
	}
	defer func() { _ = store.Close() }()

	runs, err := store.Recent(ctx, h.Limit)
	if err != nil {
		return err
	}
	return printHistory(os.Stdout, runs)
}

func printHistory(w io.Writer, runs []history.Record) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No export runs recorded yet")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOUTCOME\tDURATION\tMFA\tRESULT")
	for _, r := range runs {
		result := r.Artifact
		if r.Outcome != history.OutcomeSuccess {
			result = r.Error
		}
		mfa := "-"
		if r.Challenged {
			mfa = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Outcome,
			r.Duration().Round(time.Second), mfa, result)
	}
	return tw.Flush()
}
