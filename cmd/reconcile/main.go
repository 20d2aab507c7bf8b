// Command reconcile runs the payment reconciliation sweeps once and can export
// an xlsx report of the payments in a window.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/logging"
	"slotbook/internal/payment"
	"slotbook/internal/report"
	"slotbook/internal/repository"
	"slotbook/internal/service"
	"slotbook/internal/worker"
)

const dateLayout = "2006-01-02"

type options struct {
	configPath string
	sweep      bool
	reportDir  string
	from       string
	to         string
	failOnDiff bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", envOr("CONFIG_PATH", "configs/config.yaml"), "path to config.yaml")
	flag.BoolVar(&opts.sweep, "sweep", true, "re-check stale payments and retry pending refunds")
	flag.StringVar(&opts.reportDir, "report", "", "directory for the xlsx report; empty skips the report")
	flag.StringVar(&opts.from, "from", "", "report window start (YYYY-MM-DD), default 7 days before -to")
	flag.StringVar(&opts.to, "to", "", "report window end, exclusive (YYYY-MM-DD), default tomorrow")
	flag.BoolVar(&opts.failOnDiff, "fail-on-mismatch", false, "exit 2 when the report flags mismatches")
	flag.Parse()

	code, err := run(opts)
	if err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
	os.Exit(code)
}

func run(opts options) (int, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return 1, fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "reconcile").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database, &logger)
	if err != nil {
		return 1, err
	}
	defer db.Close()

	if opts.sweep {
		services := service.New(cfg, service.Deps{
			Store:       db,
			Provider:    payment.NewClient(cfg.Payment, nil, &logger),
			Idempotency: repository.NewMemoryStore(),
			Logger:      &logger,
		})
		sweeper := worker.NewSweeper(&logger)
		for _, job := range services.Sweeps.Jobs() {
			if job.Name != "reconcile_payments" && job.Name != "retry_refunds" {
				continue
			}
			n := sweeper.RunOnce(ctx, job)
			logger.Info().Str("job", job.Name).Int("handled", n).Msg("Sweep finished")
		}
	}

	if opts.reportDir == "" {
		return 0, nil
	}

	from, to, err := window(opts.from, opts.to, cfg.Booking.Location(), time.Now())
	if err != nil {
		return 1, err
	}
	path, summary, err := report.NewExporter(db, opts.reportDir, &logger).Export(ctx, from, to)
	if err != nil {
		return 1, err
	}
	fmt.Println(path)

	if opts.failOnDiff && summary.Mismatches > 0 {
		logger.Warn().Int("mismatches", summary.Mismatches).Msg("Payments disagree with their bookings")
		return 2, nil
	}
	return 0, nil
}

// window resolves the report range in the booking timezone. Defaults cover the
// last seven days including today.
func window(fromRaw, toRaw string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	y, m, d := now.In(loc).Date()
	to := time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	if toRaw != "" {
		t, err := time.ParseInLocation(dateLayout, toRaw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to: %w", err)
		}
		to = t
	}
	from := to.AddDate(0, 0, -7)
	if fromRaw != "" {
		f, err := time.ParseInLocation(dateLayout, fromRaw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from: %w", err)
		}
		from = f
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("-from %s must be before -to %s", from.Format(dateLayout), to.Format(dateLayout))
	}
	return from, to, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
