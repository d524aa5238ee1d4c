package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/progress"
)

// --- Fakes ---

type fakeSession struct {
	screenshots [][]byte // nil entry = ErrNoPage
	shot        int
	closed      int
	closeErr    error
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	if s.shot >= len(s.screenshots) || s.screenshots[s.shot] == nil {
		return nil, ErrNoPage
	}
	b := s.screenshots[s.shot]
	s.shot++
	return b, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.closed++
	return s.closeErr
}

type fakeEngine struct {
	sess    *fakeSession
	buildErr error
	seeds   []model.SessionSeed
}

func (e *fakeEngine) NewSession(_ context.Context, seed model.SessionSeed) (Session, error) {
	e.seeds = append(e.seeds, seed)
	if e.buildErr != nil {
		return nil, e.buildErr
	}
	return e.sess, nil
}

type scriptedRunner struct {
	errs         []error // one per attempt; nil = success
	calls        int
	instructions []string
}

func (r *scriptedRunner) Run(_ context.Context, instruction string, _ Session) (string, error) {
	r.instructions = append(r.instructions, instruction)
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return "", r.errs[i]
	}
	return "done", nil
}

type memArtifacts struct {
	refs []string
	err  error
}

func (m *memArtifacts) Save(_ context.Context, executionID, label string, _ []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	ref := executionID + "/" + label + ".png"
	m.refs = append(m.refs, ref)
	return ref, nil
}

func collect(bus *progress.Bus, executionID string) func() []model.ProgressEvent {
	ch, cancel := bus.Subscribe(executionID)
	return func() []model.ProgressEvent {
		cancel()
		var evs []model.ProgressEvent
		for ev := range ch {
			evs = append(evs, ev)
		}
		return evs
	}
}

func newOrchestrator(engine Engine, runner Runner, bus *progress.Bus) *Orchestrator {
	return New(Config{
		Engine:      engine,
		Runner:      runner,
		Bus:         bus,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	})
}

func kinds(evs []model.ProgressEvent) []model.ProgressKind {
	out := make([]model.ProgressKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

// --- Scenarios ---

func TestFirstAttemptSuccess(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{sess: &fakeSession{}}
	runner := &scriptedRunner{}
	o := newOrchestrator(engine, runner, bus)

	drain := collect(bus, "E1")
	out := o.Execute(context.Background(), model.ExecutionRequest{
		ExecutionID: "E1",
		Instruction: "noop",
	})

	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "done", out.Output)
	assert.Empty(t, out.Error)
	assert.Equal(t, 1, engine.sess.closed)

	evs := drain()
	require.Equal(t, []model.ProgressKind{
		model.ProgressStarted, model.ProgressStep, model.ProgressCompleted,
	}, kinds(evs))
	last := evs[len(evs)-1]
	assert.Equal(t, true, last.Data["success"])
}

func TestFailFailSucceed(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{sess: &fakeSession{}}
	runner := &scriptedRunner{errs: []error{
		errors.New("login wall"), errors.New("timeout"), nil,
	}}
	o := newOrchestrator(engine, runner, bus)

	drain := collect(bus, "E2")
	out := o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E2", Instruction: "noop"})

	assert.True(t, out.Success)
	assert.Equal(t, 3, out.Attempts)

	retries := 0
	for _, ev := range drain() {
		if ev.Type == model.ProgressRetry {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestAllAttemptsFail(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{sess: &fakeSession{}}
	runner := &scriptedRunner{errs: []error{
		errors.New("first"), errors.New("second"), errors.New("final straw"),
	}}
	o := newOrchestrator(engine, runner, bus)

	drain := collect(bus, "E3")
	out := o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E3", Instruction: "noop"})

	assert.False(t, out.Success)
	assert.Equal(t, 3, out.Attempts)
	assert.Contains(t, out.Error, "final straw")
	assert.Equal(t, 3, runner.calls)

	evs := drain()
	retries := 0
	for _, ev := range evs {
		if ev.Type == model.ProgressRetry {
			retries++
		}
	}
	assert.Equal(t, out.Attempts-1, retries)

	last := evs[len(evs)-1]
	assert.Equal(t, model.ProgressCompleted, last.Type)
	assert.Equal(t, false, last.Data["success"])
}

func TestNeverExceedsRetryBudget(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{sess: &fakeSession{}}
	runner := &scriptedRunner{errs: []error{
		errors.New("e"), errors.New("e"), errors.New("e"),
		errors.New("e"), errors.New("e"),
	}}
	o := newOrchestrator(engine, runner, bus)

	out := o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E4", Instruction: "noop"})
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, runner.calls)
}

func TestNoTOTPSeedMeansNo2FAInstructions(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{sess: &fakeSession{}}
	runner := &scriptedRunner{}
	o := newOrchestrator(engine, runner, bus)

	o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E5", Instruction: "close the account"})

	require.Len(t, runner.instructions, 1)
	assert.Equal(t, "close the account", runner.instructions[0])
	assert.NotContains(t, runner.instructions[0], "2FA")
}

func TestTOTPSeedEnhancesInstruction(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{sess: &fakeSession{}}
	runner := &scriptedRunner{}
	o := newOrchestrator(engine, runner, bus)

	o.Execute(context.Background(), model.ExecutionRequest{
		ExecutionID: "E6",
		Instruction: "close the account",
		Seed:        model.SessionSeed{TOTPSecret: "JBSWY3DPEHPK3PXP"},
	})

	require.Len(t, runner.instructions, 1)
	got := runner.instructions[0]
	assert.True(t, strings.HasPrefix(got, "close the account"))
	assert.Contains(t, got, "2FA")
	assert.Contains(t, got, "rotates every 30 seconds")
	assert.Contains(t, got, "JBSWY3DPEHPK3PXP")
}

func TestSessionBuildFailure(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{buildErr: errors.New("browser exploded")}
	runner := &scriptedRunner{}
	o := newOrchestrator(engine, runner, bus)

	drain := collect(bus, "E7")
	out := o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E7", Instruction: "noop"})

	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "browser exploded")
	assert.Zero(t, runner.calls)

	ks := kinds(drain())
	assert.Equal(t, []model.ProgressKind{
		model.ProgressStarted, model.ProgressError, model.ProgressCompleted,
	}, ks)
}

func TestArtifactsCapturedAndFailuresIgnored(t *testing.T) {
	bus := progress.NewBus()
	store := &memArtifacts{}
	engine := &fakeEngine{sess: &fakeSession{screenshots: [][]byte{[]byte("png1"), []byte("png2")}}}
	runner := &scriptedRunner{errs: []error{errors.New("nope"), nil}}
	o := New(Config{
		Engine: engine, Runner: runner, Bus: bus, Artifacts: store,
		MaxAttempts: 3, RetryDelay: time.Millisecond,
	})

	out := o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E8", Instruction: "noop"})

	assert.True(t, out.Success)
	require.Len(t, out.Artifacts, 2)
	assert.Contains(t, out.Artifacts[0], "failure_attempt_1")
	assert.Contains(t, out.Artifacts[1], "success")
}

func TestArtifactStoreErrorDoesNotChangeVerdict(t *testing.T) {
	bus := progress.NewBus()
	store := &memArtifacts{err: errors.New("disk full")}
	engine := &fakeEngine{sess: &fakeSession{screenshots: [][]byte{[]byte("png")}}}
	runner := &scriptedRunner{}
	o := New(Config{
		Engine: engine, Runner: runner, Bus: bus, Artifacts: store,
		MaxAttempts: 3, RetryDelay: time.Millisecond,
	})

	out := o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E9", Instruction: "noop"})
	assert.True(t, out.Success)
	assert.Empty(t, out.Artifacts)
}

func TestSessionReleasedEvenOnFailure(t *testing.T) {
	bus := progress.NewBus()
	sess := &fakeSession{closeErr: errors.New("already gone")}
	engine := &fakeEngine{sess: sess}
	runner := &scriptedRunner{errs: []error{errors.New("e"), errors.New("e"), errors.New("e")}}
	o := newOrchestrator(engine, runner, bus)

	out := o.Execute(context.Background(), model.ExecutionRequest{ExecutionID: "E10", Instruction: "noop"})
	assert.False(t, out.Success)
	// Release happened and its failure did not surface in the outcome.
	assert.Equal(t, 1, sess.closed)
	assert.NotContains(t, out.Error, "already gone")
}

func TestCancellationStopsRetryLoop(t *testing.T) {
	bus := progress.NewBus()
	engine := &fakeEngine{sess: &fakeSession{}}
	runner := &scriptedRunner{errs: []error{errors.New("e"), errors.New("e"), errors.New("e")}}
	o := New(Config{
		Engine: engine, Runner: runner, Bus: bus,
		MaxAttempts: 3, RetryDelay: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan model.ExecutionOutcome, 1)
	go func() {
		done <- o.Execute(ctx, model.ExecutionRequest{ExecutionID: "E11", Instruction: "noop"})
	}()

	select {
	case out := <-done:
		assert.False(t, out.Success)
		assert.Equal(t, 1, out.Attempts)
		assert.Contains(t, out.Error, "cancelled")
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not honor cancellation")
	}
}
