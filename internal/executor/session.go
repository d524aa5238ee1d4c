package executor

import (
	"context"
	"errors"

	"github.com/charon-estate/charond/internal/model"
)

// ErrNoPage is returned by Session.Screenshot when the session has no open
// page to capture. The orchestrator treats it as "skip", not as a failure.
var ErrNoPage = errors.New("executor: no open page")

// Session is one isolated automation context. A session belongs to exactly
// one execution and is released when that execution ends.
type Session interface {
	// Screenshot captures the current page state as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the session. Safe to call once; errors are advisory.
	Close(ctx context.Context) error
}

// Engine spawns isolated sessions from a shared underlying browser
// process. The engine is the only resource shared between concurrent
// executions.
type Engine interface {
	NewSession(ctx context.Context, seed model.SessionSeed) (Session, error)
}

// Runner is the opaque automation capability: it carries out an
// instruction inside a session and returns its textual output. Whatever
// reasons about the page is behind this interface and not re-specified
// here.
type Runner interface {
	Run(ctx context.Context, instruction string, sess Session) (string, error)
}
