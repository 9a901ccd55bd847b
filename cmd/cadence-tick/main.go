// Command cadence-tick runs one cadence tick against the configured store
// and prints the report as JSON. It is meant for cron or a Kubernetes
// CronJob; running it twice on the same day sends nothing new.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/config"
	"github.com/soaringjerry/Pulse/internal/db"
	"github.com/soaringjerry/Pulse/internal/notify"
	"github.com/soaringjerry/Pulse/internal/services"
)

// errFailures makes the process exit non-zero when some schedules failed.
var errFailures = errors.New("tick finished with failures")

type options struct {
	today   calendar.Date
	dryRun  bool
	webhook string
	secret  string
}

func main() {
	todayFlag := flag.String("today", "", "Tick date (YYYY-MM-DD); default today in PULSE_TIMEZONE")
	dryRun := flag.Bool("dry-run", false, "Report due schedules without writing or sending")
	webhook := flag.String("webhook", "", "Webhook URL; overrides PULSE_WEBHOOK_URL")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		exit(err)
	}
	cfg, err := config.Load()
	if err != nil {
		exit(err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	opts := options{dryRun: *dryRun, webhook: cfg.WebhookURL, secret: cfg.WebhookSecret}
	if *webhook != "" {
		opts.webhook = *webhook
	}
	if *todayFlag != "" {
		d, err := calendar.Parse(*todayFlag)
		if err != nil {
			exit(fmt.Errorf("invalid -today: %w", err))
		}
		opts.today = d
	} else {
		opts.today = calendar.Today(cfg.Location)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		exit(err)
	}
	engine, err := services.NewEngine(policy)
	if err != nil {
		exit(err)
	}
	store, closeStore, err := db.OpenStore(ctx, cfg, logger)
	if err != nil {
		exit(err)
	}
	err = run(ctx, store, engine, cfg.Location, opts, os.Stdout, logger)
	if cerr := closeStore(); cerr != nil {
		logger.Warn("close store", "err", cerr)
	}
	if err != nil {
		exit(err)
	}
}

func run(ctx context.Context, store api.Store, engine *services.Engine, loc *time.Location, opts options, out io.Writer, logger *slog.Logger) error {
	var dispatcher services.Dispatcher = services.DispatcherFunc(func(_ context.Context, n services.Notification) error {
		logger.Info("notification", "schedule", n.ScheduleID, "client", n.ClientID, "submission", n.SubmissionID, "deadline", n.Deadline.String())
		return nil
	})
	if opts.webhook != "" {
		dispatcher = notify.NewWebhook(opts.webhook, opts.secret)
	}
	subs := services.NewSubmissionService(store, engine.Aggregator, logger)
	subs.SetLocation(loc)
	dispatch := services.NewDispatchService(store, engine.Scheduler, subs, dispatcher, logger)

	report, err := dispatch.RunTick(ctx, opts.today, opts.dryRun)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%w: %d", errFailures, len(report.Failures))
	}
	return nil
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "cadence-tick: %v\n", err)
	os.Exit(1)
}
