package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"

	"github.com/charon-estate/charond/internal/config"
	"github.com/charon-estate/charond/internal/dispatch"
	"github.com/charon-estate/charond/internal/guardian"
	"github.com/charon-estate/charond/internal/ledger"
	"github.com/charon-estate/charond/internal/store"
	"github.com/charon-estate/charond/internal/watcher"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "charond.yaml", "config file path")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(configPath, log); err != nil {
		log.Error("watcher exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tc, err := client.Dial(client.Options{HostPort: cfg.TemporalHostPort})
	if err != nil {
		return err
	}
	defer tc.Close()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	lc, err := ledger.Dial(ctx, cfg.RPCURL, cfg.ContractAddress)
	if err != nil {
		return err
	}
	defer lc.Close()

	var notifier guardian.Notifier
	if cfg.NotifyAPIKey != "" {
		notifier = guardian.NewEmailNotifier(cfg.NotifyBaseURL, cfg.NotifyAPIKey, cfg.NotifyFromEmail)
	} else {
		log.Warn("no notify api key configured, guardian notifications go to the log")
		notifier = &guardian.LogNotifier{Log: log}
	}

	coordinator := guardian.NewCoordinator(lc, db, notifier, cfg.GracePeriodHours, log)
	dispatcher := dispatch.New(tc, db, coordinator, cfg.TaskQueue, log)

	w := watcher.New(watcher.Config{
		Ledger:        lc,
		Cursor:        db,
		Handler:       dispatcher,
		Logger:        log,
		PollInterval:  cfg.PollInterval,
		ErrorInterval: cfg.ErrorInterval,
		Lookback:      cfg.LookbackBlocks,
	})

	log.Info("status watcher started",
		"contract", cfg.ContractAddress,
		"poll_interval", cfg.PollInterval,
		"grace_period_hours", cfg.GracePeriodHours)
	err = w.Run(ctx)
	log.Info("status watcher stopped")
	return err
}
