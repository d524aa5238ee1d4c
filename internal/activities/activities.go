package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/charon-estate/charond/internal/executor"
	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
	"github.com/charon-estate/charond/internal/unseal"
	"github.com/charon-estate/charond/internal/workflows"
)

// Activities bundles the worker-side collaborators the will-execution
// workflow calls into.
type Activities struct {
	Unsealer     unseal.Unsealer
	Orchestrator *executor.Orchestrator
	Store        *store.Store
}

// UnsealCredential decrypts a will's sealed secret. A policy refusal comes
// back as a non-retryable application error so the workflow abandons this
// will immediately instead of burning its retry budget.
func (a *Activities) UnsealCredential(ctx context.Context, in workflows.UnsealInput) (string, error) {
	secret, err := a.Unsealer.Unseal(ctx, in.Ciphertext, in.IntegrityHash, in.Subject)
	if err != nil {
		if errors.Is(err, unseal.ErrRefused) {
			return "", temporal.NewNonRetryableApplicationError(
				err.Error(), workflows.UnsealRefusedErrType, err)
		}
		return "", err
	}
	return secret, nil
}

// ExecuteTask runs the orchestrator to its terminal outcome. The outcome
// carries failure in-band; the activity errors only on infrastructure
// problems outside the orchestrator.
func (a *Activities) ExecuteTask(ctx context.Context, req model.ExecutionRequest) (model.ExecutionOutcome, error) {
	return a.Orchestrator.Execute(ctx, req), nil
}

// RecordOutcome persists the terminal execution record.
func (a *Activities) RecordOutcome(ctx context.Context, rec store.ExecutionRecord) error {
	return a.Store.RecordExecution(ctx, rec)
}
