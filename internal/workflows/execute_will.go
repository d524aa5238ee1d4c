package workflows

import (
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
)

const TaskQueue = "CHAROND_TASK_QUEUE"

// UnsealRefusedErrType marks a policy refusal from the unseal activity.
// Refusals are non-retryable: the one will is abandoned, siblings proceed.
const UnsealRefusedErrType = "UNSEAL_REFUSED"

// UnsealInput is the UnsealCredential activity input.
type UnsealInput struct {
	Ciphertext    string `json:"ciphertext"`
	IntegrityHash string `json:"integrityHash"`
	Subject       string `json:"subject"`
}

// ExecuteWillInput is the full workflow input: the will to execute and the
// pre-assigned execution id observers subscribe to.
type ExecuteWillInput struct {
	ExecutionID string            `json:"executionId"`
	Will        model.DigitalWill `json:"will"`
}

type workflowState struct {
	Outcome model.ExecutionOutcome `json:"outcome"`
	Audit   []model.AuditEvent     `json:"audit,omitempty"`
}

// ExecuteWill unseals one will's credential and drives it through the
// orchestrator. The coarse trail and terminal outcome are readable through
// the audit_log and outcome queries while fine-grained progress streams
// over the worker's progress bus.
func ExecuteWill(ctx workflow.Context, in ExecuteWillInput) (model.ExecutionOutcome, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("will execution started", "executionID", in.ExecutionID, "willID", in.Will.ID)

	state := &workflowState{
		Outcome: model.ExecutionOutcome{ExecutionID: in.ExecutionID},
	}

	appendAudit := func(kind, message string, data map[string]any) {
		state.Audit = append(state.Audit, model.AuditEvent{
			At:      workflow.Now(ctx),
			Kind:    kind,
			Message: message,
			Data:    data,
		})
	}

	_ = workflow.SetQueryHandler(ctx, "outcome", func() (model.ExecutionOutcome, error) {
		return state.Outcome, nil
	})
	_ = workflow.SetQueryHandler(ctx, "audit_log", func() ([]model.AuditEvent, error) {
		return state.Audit, nil
	})

	// The unseal call retries on transient ledger/decrypt infrastructure
	// errors; a policy refusal arrives as a non-retryable error.
	unsealCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})

	var secret string
	err := workflow.ExecuteActivity(unsealCtx, "UnsealCredential", UnsealInput{
		Ciphertext:    in.Will.EncryptedSecret,
		IntegrityHash: in.Will.SecretHash,
		Subject:       in.Will.Subject,
	}).Get(ctx, &secret)
	if err != nil {
		logger.Error("credential unseal failed", "willID", in.Will.ID, "error", err)
		appendAudit("UNSEAL_FAILED", "credential did not unseal", map[string]any{"error": err.Error()})
		state.Outcome.Error = err.Error()
		recordOutcome(ctx, logger, state, in)
		return state.Outcome, err
	}
	appendAudit("UNSEALED", "credential unsealed under DECEASED policy", nil)

	req := model.ExecutionRequest{
		ExecutionID: in.ExecutionID,
		Instruction: in.Will.Instruction,
		Seed: model.SessionSeed{
			StartURL: in.Will.TargetURL,
			LocalStorage: map[string]string{
				"username": in.Will.Username,
				"password": secret,
			},
			TOTPSecret: in.Will.TOTPSecret,
		},
		CreatedAt: workflow.Now(ctx),
	}

	// The orchestrator owns the retry budget, so the activity itself runs
	// exactly once and is given room for the full budget.
	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var out model.ExecutionOutcome
	if err := workflow.ExecuteActivity(execCtx, "ExecuteTask", req).Get(ctx, &out); err != nil {
		appendAudit("EXECUTION_ERROR", "task activity failed", map[string]any{"error": err.Error()})
		state.Outcome.Error = err.Error()
		recordOutcome(ctx, logger, state, in)
		return state.Outcome, err
	}
	state.Outcome = out
	appendAudit("EXECUTED", "task finished", map[string]any{
		"success":  out.Success,
		"attempts": out.Attempts,
	})

	recordOutcome(ctx, logger, state, in)
	logger.Info("will execution finished",
		"executionID", in.ExecutionID, "success", out.Success, "attempts", out.Attempts)
	return out, nil
}

// recordOutcome persists the terminal state. Best effort: the record is a
// projection of workflow history, so a storage failure is logged, not
// fatal.
func recordOutcome(ctx workflow.Context, logger log.Logger, state *workflowState, in ExecuteWillInput) {
	recCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 2,
		},
	})
	rec := store.ExecutionRecord{
		Outcome: state.Outcome,
		WillID:  in.Will.ID,
		Subject: in.Will.Subject,
	}
	if err := workflow.ExecuteActivity(recCtx, "RecordOutcome", rec).Get(ctx, nil); err != nil {
		logger.Warn("outcome record failed", "error", err)
	}
}
