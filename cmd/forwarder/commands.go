package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/preston-bernstein/power-usage-forwarder/internal/config"
	"github.com/preston-bernstein/power-usage-forwarder/internal/domain"
	"github.com/preston-bernstein/power-usage-forwarder/internal/forwarder"
	"github.com/preston-bernstein/power-usage-forwarder/internal/logging"
	"github.com/preston-bernstein/power-usage-forwarder/internal/metrics"
	"github.com/preston-bernstein/power-usage-forwarder/internal/server"
	"github.com/preston-bernstein/power-usage-forwarder/internal/timeutil"
)

var metricsSetup = metrics.Setup

var cmdRun = cli.Command{
	Name:   "run",
	Usage:  "Forward one or more days and exit; exits non-zero when a day fails",
	Action: runOnce,
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "backfill-days",
			Usage: "Number of days to backfill (0 = only yesterday)",
		},
		cli.StringFlag{
			Name:  "date",
			Usage: "Forward a single day (YYYY-MM-DD) instead of yesterday",
		},
		cli.BoolFlag{
			Name:  "force",
			Usage: "Forward even when Blockbax already holds measurements for the day",
		},
	},
}

var cmdServe = cli.Command{
	Name:   "serve",
	Usage:  "Run on a cron schedule with health, status and manual dispatch endpoints",
	Action: runServe,
}

var cmdVersion = cli.Command{
	Name:  "version",
	Usage: "Print the version",
	Action: func(c *cli.Context) error {
		_, err := fmt.Fprintln(c.App.Writer, c.App.Version)
		return err
	},
}

// bootstrap loads the environment and builds the logger shared by every command.
func bootstrap(c *cli.Context) (config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(c.GlobalStringSlice("env-file")...); err != nil {
		return config.Config{}, nil, fmt.Errorf("load env file: %w", err)
	}
	logger := logging.NewLogger(logging.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  os.Getenv("LOG_FORMAT"),
		Service: serviceName,
		Version: c.App.Version,
		Output:  c.App.Writer,
	})
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error(logger, "invalid configuration", err)
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runOnce(c *cli.Context) error {
	if c.IsSet("date") && c.Int("backfill-days") > 0 {
		return errors.New("use either --date or --backfill-days, not both")
	}
	cfg, logger, err := bootstrap(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, flush := oneShotMetrics(ctx, cfg, logger)
	defer flush()

	fwd := server.BuildForwarder(cfg, logger, recorder)
	req := forwarder.Request{Force: c.Bool("force"), Trigger: forwarder.TriggerCLI}
	if raw := strings.TrimSpace(c.String("date")); raw != "" {
		day, err := timeutil.ParseDateIn(raw, fwd.Location())
		if err != nil {
			return fmt.Errorf("invalid --date %q (expected YYYY-MM-DD)", raw)
		}
		req.Dates = []time.Time{day}
	} else {
		req.Dates = fwd.Dates(c.Int("backfill-days"))
	}

	report, err := fwd.Run(ctx, req)
	printReport(c, report)
	return err
}

// oneShotMetrics only exports when an OTLP collector is configured; nothing
// scrapes a process that exits after one run.
func oneShotMetrics(ctx context.Context, cfg config.Config, logger *slog.Logger) (*metrics.Recorder, func()) {
	telemetry := server.TelemetryConfig(cfg)
	telemetry.Enabled = telemetry.Enabled && telemetry.OtlpEndpoint != ""
	rec, _, shutdown, err := metricsSetup(ctx, telemetry)
	if err != nil {
		logging.Warn(logger, "metrics setup failed, continuing without telemetry", "error", err)
		return metrics.NewRecorder(), func() {}
	}
	return rec, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logging.Warn(logger, "metrics flush failed", "error", err)
		}
	}
}

func printReport(c *cli.Context, report domain.RunReport) {
	for _, day := range report.Days {
		line := fmt.Sprintf("%s %-9s meters=%d bytes=%d", day.Date, day.Outcome, day.Meters, day.Bytes)
		if day.Error != "" {
			line += " error=" + day.Error
		}
		fmt.Fprintln(c.App.Writer, line)
	}
}

func runServe(c *cli.Context) error {
	cfg, logger, err := bootstrap(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, logger, c.App.Version)
	if err != nil {
		return err
	}
	srv.Run(ctx, stop)
	return nil
}
