// Package watcher polls the ledger for StatusChanged events and dispatches
// them into the pipeline: PENDING_VERIFICATION to the guardian
// coordinator, DECEASED to the will-execution path.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/charon-estate/charond/internal/ledger"
	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
)

// CursorStore persists watch progress so a restart resumes from the last
// processed block instead of re-scanning the lookback window, and
// deduplicates transitions the window re-surfaces.
type CursorStore interface {
	Cursor(ctx context.Context) (uint64, error)
	SetCursor(ctx context.Context, height uint64) error
	MarkTransition(ctx context.Context, ev model.StatusChangeEvent) (bool, error)
}

// Handler receives dispatched transitions. Handler failures are isolated:
// they are logged and never reach the polling loop.
type Handler interface {
	HandlePendingVerification(ctx context.Context, subject string) error
	HandleDeceased(ctx context.Context, ev model.StatusChangeEvent) error
}

type Watcher struct {
	ledger  ledger.Client
	cursor  CursorStore
	handler Handler
	log     *slog.Logger

	pollInterval  time.Duration
	errorInterval time.Duration
	lookback      uint64

	wg sync.WaitGroup
}

type Config struct {
	Ledger        ledger.Client
	Cursor        CursorStore
	Handler       Handler
	Logger        *slog.Logger
	PollInterval  time.Duration
	ErrorInterval time.Duration
	Lookback      uint64
}

func New(cfg Config) *Watcher {
	w := &Watcher{
		ledger:        cfg.Ledger,
		cursor:        cfg.Cursor,
		handler:       cfg.Handler,
		log:           cfg.Logger,
		pollInterval:  cfg.PollInterval,
		errorInterval: cfg.ErrorInterval,
		lookback:      cfg.Lookback,
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 10 * time.Second
	}
	if w.errorInterval <= 0 {
		w.errorInterval = 30 * time.Second
	}
	if w.lookback == 0 {
		w.lookback = 100
	}
	return w
}

// Run polls until ctx is cancelled. Transient ledger errors only stretch
// the sleep to the error interval; the loop itself never gives up. On stop
// it waits for in-flight handlers before returning.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("ledger watcher started",
		"poll_interval", w.pollInterval, "lookback_blocks", w.lookback)
	defer w.wg.Wait()

	for {
		sleep := w.pollInterval
		if err := w.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				w.log.Info("ledger watcher stopped")
				return nil
			}
			w.log.Error("watch cycle failed", "error", err)
			sleep = w.errorInterval
		}

		select {
		case <-ctx.Done():
			w.log.Info("ledger watcher stopped")
			return nil
		case <-time.After(sleep):
		}
	}
}

func (w *Watcher) cycle(ctx context.Context) error {
	height, err := w.ledger.Height(ctx)
	if err != nil {
		return err
	}

	from := w.windowStart(ctx, height)
	if from > height {
		return nil
	}

	events, err := w.ledger.StatusChanges(ctx, from, height)
	if err != nil {
		return err
	}

	for _, ev := range events {
		w.dispatch(ctx, ev)
	}
	return w.cursor.SetCursor(ctx, height)
}

// windowStart resumes one past the cursor when one exists, otherwise falls
// back to the fixed lookback window behind the head.
func (w *Watcher) windowStart(ctx context.Context, height uint64) uint64 {
	last, err := w.cursor.Cursor(ctx)
	if err == nil {
		return last + 1
	}
	if !errors.Is(err, store.ErrNotFound) {
		w.log.Warn("cursor read failed, using lookback window", "error", err)
	}
	if height > w.lookback {
		return height - w.lookback
	}
	return 0
}

func (w *Watcher) dispatch(ctx context.Context, ev model.StatusChangeEvent) {
	switch ev.NewStatus {
	case model.StatusPendingVerification, model.StatusDeceased:
	default:
		return
	}

	first, err := w.cursor.MarkTransition(ctx, ev)
	if err != nil {
		w.log.Error("transition dedup check failed", "subject", ev.Subject, "error", err)
		return
	}
	if !first {
		w.log.Debug("transition already dispatched",
			"subject", ev.Subject, "new_status", ev.NewStatus.String())
		return
	}

	log := w.log.With("subject", ev.Subject,
		"old_status", ev.OldStatus.String(), "new_status", ev.NewStatus.String(),
		"block", ev.BlockHeight)
	log.Info("status transition dispatched")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked", "panic", r)
			}
		}()

		var err error
		switch ev.NewStatus {
		case model.StatusPendingVerification:
			err = w.handler.HandlePendingVerification(ctx, ev.Subject)
		case model.StatusDeceased:
			err = w.handler.HandleDeceased(ctx, ev)
		}
		if err != nil {
			log.Error("handler failed", "error", err)
		}
	}()
}
