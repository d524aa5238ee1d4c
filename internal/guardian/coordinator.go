// Package guardian notifies a subject's guardians when the ledger moves
// the subject into PENDING_VERIFICATION, giving them a grace period to
// confirm or dispute before the estate executes.
package guardian

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/charon-estate/charond/internal/ledger"
	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
)

// Notifier delivers one grace-period notification. Delivery is best
// effort; failures are logged by the coordinator and never abort the
// pipeline.
type Notifier interface {
	NotifyGuardian(ctx context.Context, n model.GuardianNotification) error
}

type Coordinator struct {
	ledger    ledger.Client
	directory store.GuardianDirectory
	notifier  Notifier
	log       *slog.Logger

	gracePeriod time.Duration
}

func NewCoordinator(lc ledger.Client, dir store.GuardianDirectory, n Notifier, gracePeriodHours int, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if gracePeriodHours <= 0 {
		gracePeriodHours = 72
	}
	return &Coordinator{
		ledger:      lc,
		directory:   dir,
		notifier:    n,
		log:         log,
		gracePeriod: time.Duration(gracePeriodHours) * time.Hour,
	}
}

// HandlePendingVerification reads the subject's guardian slots from the
// ledger and notifies every guardian with an email on file. The grace
// deadline is the subject's last heartbeat plus the grace period. Returns
// the number of notifications sent.
func (c *Coordinator) HandlePendingVerification(ctx context.Context, subject string) (int, error) {
	info, err := c.ledger.UserInfo(ctx, subject)
	if err != nil {
		return 0, err
	}

	deadline := time.Unix(info.LastSeen, 0).UTC().Add(c.gracePeriod)
	sent := 0

	for _, g := range info.Guardians {
		if g == "" {
			continue
		}
		log := c.log.With("subject", subject, "guardian", g)

		email, err := c.directory.GuardianEmail(ctx, g)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("guardian has no email on file, skipping")
			continue
		}
		if err != nil {
			log.Error("guardian email lookup failed", "error", err)
			continue
		}

		n := model.GuardianNotification{
			Subject:       subject,
			Guardian:      g,
			Email:         email,
			SentAt:        time.Now().UTC(),
			GraceDeadline: deadline,
		}
		if err := c.notifier.NotifyGuardian(ctx, n); err != nil {
			log.Warn("guardian notification failed", "error", err)
			continue
		}
		log.Info("guardian notified", "deadline", deadline)
		sent++
	}
	return sent, nil
}
