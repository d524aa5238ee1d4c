package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/charon-estate/charond/internal/activities"
	"github.com/charon-estate/charond/internal/artifact"
	"github.com/charon-estate/charond/internal/browser"
	"github.com/charon-estate/charond/internal/config"
	"github.com/charon-estate/charond/internal/executor"
	"github.com/charon-estate/charond/internal/ledger"
	"github.com/charon-estate/charond/internal/progress"
	"github.com/charon-estate/charond/internal/store"
	"github.com/charon-estate/charond/internal/unseal"
	"github.com/charon-estate/charond/internal/workflows"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "charond.yaml", "config file path")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(configPath, log); err != nil {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

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

	unsealer, err := unseal.New(cfg.UnsealIdentity, lc)
	if err != nil {
		return err
	}

	artifacts, err := artifact.NewDirStore(cfg.ArtifactDir)
	if err != nil {
		return err
	}

	engine := browser.NewEngine(ctx, cfg.BrowserHeadless)
	defer engine.Close()

	bus := progress.NewBus()
	orchestrator := executor.New(executor.Config{
		Engine:      engine,
		Runner:      executor.NewRemoteRunner(cfg.AgentURL),
		Bus:         bus,
		Artifacts:   artifacts,
		Logger:      log,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
	})

	// Live progress is served from this process because the bus is
	// in-memory and the orchestrator runs here.
	progressSrv := &http.Server{
		Addr:    cfg.ProgressListen,
		Handler: progress.NewWSHandler(bus, log).Routes(),
	}
	go func() {
		log.Info("progress listener started", "addr", cfg.ProgressListen)
		if err := progressSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("progress listener failed", "error", err)
		}
	}()
	defer func() { _ = progressSrv.Close() }()

	w := worker.New(tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.MaxConcurrent,
	})
	w.RegisterWorkflow(workflows.ExecuteWill)
	w.RegisterActivity(&activities.Activities{
		Unsealer:     unsealer,
		Orchestrator: orchestrator,
		Store:        db,
	})

	log.Info("worker started", "task_queue", cfg.TaskQueue, "max_concurrent", cfg.MaxConcurrent)
	return w.Run(worker.InterruptCh())
}
