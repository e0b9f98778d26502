package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	serrors "github.com/cantalupo555/simplifi-exporter/internal/errors"
	"github.com/cantalupo555/simplifi-exporter/internal/schedule"
)

// appVersion is set at build time via -ldflags="-X main.appVersion=x.x.x"
var appVersion = "dev"

const programName = "simplifi-exporter"

func main() {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name(programName),
		kong.Description("Export Quicken Simplifi transactions to CSV through a real browser."),
		kong.Vars{
			"version":      fmt.Sprintf("%s version %s", programName, appVersion),
			"default_cron": schedule.DefaultCron,
		},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.Errorf("%s", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	kctx.BindTo(ctx, (*context.Context)(nil))

	err = kctx.Run()
	stop()
	if err != nil {
		adapter := serrors.NewCLIAdapter(programName, cli.Verbose, slog.Default())
		fmt.Fprintln(os.Stderr, adapter.FormatError(err))
		os.Exit(adapter.Report(err))
	}
}
