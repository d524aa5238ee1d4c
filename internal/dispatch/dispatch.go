// Package dispatch turns ledger transitions into pipeline work: guardian
// notification for PENDING_VERIFICATION, one workflow start per stored
// will for DECEASED.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/charon-estate/charond/internal/guardian"
	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
	"github.com/charon-estate/charond/internal/workflows"
)

// WorkflowStarter is the slice of the Temporal client the dispatcher
// needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

type Dispatcher struct {
	starter     WorkflowStarter
	wills       store.WillStore
	coordinator *guardian.Coordinator
	taskQueue   string
	log         *slog.Logger
}

func New(starter WorkflowStarter, wills store.WillStore, coordinator *guardian.Coordinator, taskQueue string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if taskQueue == "" {
		taskQueue = workflows.TaskQueue
	}
	return &Dispatcher{
		starter:     starter,
		wills:       wills,
		coordinator: coordinator,
		taskQueue:   taskQueue,
		log:         log,
	}
}

func (d *Dispatcher) HandlePendingVerification(ctx context.Context, subject string) error {
	sent, err := d.coordinator.HandlePendingVerification(ctx, subject)
	if err != nil {
		return fmt.Errorf("notify guardians for %s: %w", subject, err)
	}
	d.log.Info("guardians notified", "subject", subject, "sent", sent)
	return nil
}

// HandleDeceased starts one ExecuteWill workflow per stored will. The
// workflow id is derived from the will, with duplicate starts rejected, so
// a replayed transition cannot execute a will twice. One will's start
// failure never blocks its siblings.
func (d *Dispatcher) HandleDeceased(ctx context.Context, ev model.StatusChangeEvent) error {
	wills, err := d.wills.ListWills(ctx, ev.Subject)
	if err != nil {
		return fmt.Errorf("list wills for %s: %w", ev.Subject, err)
	}
	if len(wills) == 0 {
		d.log.Warn("no wills stored for deceased subject", "subject", ev.Subject)
		return nil
	}
	d.log.Info("executing wills", "subject", ev.Subject, "count", len(wills))

	var errs []error
	for _, will := range wills {
		if err := d.startWill(ctx, will); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) startWill(ctx context.Context, will model.DigitalWill) error {
	opts := client.StartWorkflowOptions{
		ID:                                       "execute-will-" + will.ID,
		TaskQueue:                                d.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	in := workflows.ExecuteWillInput{
		ExecutionID: uuid.NewString(),
		Will:        will,
	}

	we, err := d.starter.ExecuteWorkflow(ctx, opts, workflows.ExecuteWill, in)
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		d.log.Info("will execution already started, skipping", "will_id", will.ID)
		return nil
	}
	if err != nil {
		d.log.Error("will execution start failed", "will_id", will.ID, "error", err)
		return fmt.Errorf("start execution for will %s: %w", will.ID, err)
	}
	d.log.Info("will execution started",
		"will_id", will.ID, "execution_id", in.ExecutionID,
		"workflow_id", we.GetID(), "run_id", we.GetRunID())
	return nil
}
