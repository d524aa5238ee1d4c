// Package executor drives one will execution: it builds an isolated
// session, injects credentials and second-factor guidance, invokes the
// automation capability under a bounded retry budget, captures artifacts
// and reports every step over the progress bus.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charon-estate/charond/internal/artifact"
	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/progress"
	"github.com/charon-estate/charond/internal/totp"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
)

type Orchestrator struct {
	engine    Engine
	runner    Runner
	bus       *progress.Bus
	artifacts artifact.Store
	log       *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
}

// Config carries the orchestrator's collaborators. Engine, Runner and Bus
// are required; the rest default.
type Config struct {
	Engine      Engine
	Runner      Runner
	Bus         *progress.Bus
	Artifacts   artifact.Store
	Logger      *slog.Logger
	MaxAttempts int
	RetryDelay  time.Duration
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		engine:      cfg.Engine,
		runner:      cfg.Runner,
		bus:         cfg.Bus,
		artifacts:   cfg.Artifacts,
		log:         cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = DefaultMaxAttempts
	}
	if o.retryDelay <= 0 {
		o.retryDelay = DefaultRetryDelay
	}
	return o
}

// Execute runs one request to its terminal outcome. It never panics the
// caller and never exceeds the retry budget; infrastructure and capability
// failures surface in the outcome's error field.
func (o *Orchestrator) Execute(ctx context.Context, req model.ExecutionRequest) model.ExecutionOutcome {
	log := o.log.With("execution_id", req.ExecutionID)

	o.bus.Emit(req.ExecutionID, model.ProgressStarted, map[string]any{
		"instruction": req.Instruction,
	})

	sess, err := o.engine.NewSession(ctx, req.Seed)
	if err != nil {
		log.Error("session build failed", "error", err)
		o.bus.Emit(req.ExecutionID, model.ProgressError, map[string]any{"error": err.Error()})
		out := model.ExecutionOutcome{
			ExecutionID: req.ExecutionID,
			Error:       fmt.Sprintf("build session: %v", err),
		}
		o.emitCompleted(req.ExecutionID, out)
		return out
	}
	defer func() {
		// Best effort: a release failure never becomes the execution's
		// result.
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("session release failed", "error", err)
		}
	}()

	instruction := req.Instruction
	if req.Seed.TOTPSecret != "" {
		instruction = withSecondFactor(instruction, req.Seed.TOTPSecret)
	}

	out := o.runWithRetry(ctx, log, instruction, sess, req.ExecutionID)
	o.emitCompleted(req.ExecutionID, out)
	return out
}

func (o *Orchestrator) runWithRetry(ctx context.Context, log *slog.Logger, instruction string, sess Session, executionID string) model.ExecutionOutcome {
	out := model.ExecutionOutcome{ExecutionID: executionID}

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		out.Attempts = attempt
		log.Info("executing task", "attempt", attempt, "max_attempts", o.maxAttempts)

		output, err := o.runner.Run(ctx, instruction, sess)
		if err == nil {
			o.captureArtifact(ctx, log, sess, executionID, "success", &out)
			o.bus.Emit(executionID, model.ProgressStep, map[string]any{
				"step":    fmt.Sprintf("attempt %d/%d", attempt, o.maxAttempts),
				"status":  "completed",
				"attempt": attempt,
			})
			out.Success = true
			out.Output = output
			return out
		}

		log.Warn("task attempt failed", "attempt", attempt, "error", err)
		o.captureArtifact(ctx, log, sess, executionID, fmt.Sprintf("failure_attempt_%d", attempt), &out)
		o.bus.Emit(executionID, model.ProgressStep, map[string]any{
			"step":    fmt.Sprintf("attempt %d/%d", attempt, o.maxAttempts),
			"status":  "failed",
			"attempt": attempt,
			"error":   err.Error(),
		})
		out.Error = fmt.Sprintf("task failed after %d attempt(s): %v", attempt, err)

		if attempt == o.maxAttempts {
			break
		}
		o.bus.Emit(executionID, model.ProgressRetry, map[string]any{
			"attempt":      attempt,
			"max_attempts": o.maxAttempts,
			"delay":        o.retryDelay.String(),
		})
		select {
		case <-time.After(o.retryDelay):
		case <-ctx.Done():
			out.Error = fmt.Sprintf("execution cancelled after %d attempt(s): %v", attempt, ctx.Err())
			return out
		}
	}
	return out
}

func (o *Orchestrator) emitCompleted(executionID string, out model.ExecutionOutcome) {
	data := map[string]any{
		"success":  out.Success,
		"attempts": out.Attempts,
	}
	if out.Success {
		data["output"] = out.Output
	} else {
		data["error"] = out.Error
	}
	o.bus.Emit(executionID, model.ProgressCompleted, data)
}

// captureArtifact is a side channel: a skipped or failed capture is logged
// and never alters the verdict.
func (o *Orchestrator) captureArtifact(ctx context.Context, log *slog.Logger, sess Session, executionID, label string, out *model.ExecutionOutcome) {
	if o.artifacts == nil {
		return
	}
	png, err := sess.Screenshot(ctx)
	if err != nil {
		if errors.Is(err, ErrNoPage) {
			log.Debug("no open page, skipping artifact", "label", label)
		} else {
			log.Warn("artifact capture failed", "label", label, "error", err)
		}
		return
	}
	ref, err := o.artifacts.Save(ctx, executionID, label, png)
	if err != nil {
		log.Warn("artifact save failed", "label", label, "error", err)
		return
	}
	out.Artifacts = append(out.Artifacts, ref)
	o.bus.Emit(executionID, model.ProgressArtifact, map[string]any{
		"ref":   ref,
		"label": label,
	})
}

// withSecondFactor appends machine-readable 2FA guidance to the
// instruction: the current code, its rotation period, and how to get a
// fresh one if it expires mid-task.
func withSecondFactor(instruction, secret string) string {
	code, err := totp.Now(secret)
	if err != nil {
		// A malformed seed still gets the rotation guidance; the
		// capability can ask for a regenerated code.
		code = "UNAVAILABLE"
	}
	return instruction + fmt.Sprintf(`

2FA HANDLING:
If a two-factor / TOTP prompt appears:
1. Enter this one-time code: %s
2. The code rotates every %d seconds. If it is rejected as expired,
   regenerate a fresh code from the TOTP secret: %s
3. Then continue with the task.`, code, totp.Period, secret)
}
