package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
)

// --- Fakes ---

type fakeLedger struct {
	mu        sync.Mutex
	height    uint64
	events    []model.StatusChangeEvent
	heightErr error
	queries   [][2]uint64
}

func (f *fakeLedger) Height(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, f.heightErr
}

func (f *fakeLedger) StatusChanges(_ context.Context, from, to uint64) ([]model.StatusChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, [2]uint64{from, to})
	var out []model.StatusChangeEvent
	for _, ev := range f.events {
		if ev.BlockHeight >= from && ev.BlockHeight <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeLedger) UserInfo(context.Context, string) (model.UserInfo, error) {
	return model.UserInfo{}, nil
}

type memCursor struct {
	mu     sync.Mutex
	height uint64
	set    bool
	seen   map[string]struct{}
}

func newMemCursor() *memCursor {
	return &memCursor{seen: make(map[string]struct{})}
}

func (m *memCursor) Cursor(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return 0, store.ErrNotFound
	}
	return m.height, nil
}

func (m *memCursor) SetCursor(_ context.Context, h uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height, m.set = h, true
	return nil
}

func (m *memCursor) MarkTransition(_ context.Context, ev model.StatusChangeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ev.Subject + "/" + ev.NewStatus.String()
	if _, dup := m.seen[key]; dup {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

type recordingHandler struct {
	mu       sync.Mutex
	pending  []string
	deceased []model.StatusChangeEvent
	panicOn  string
	errOn    string
}

func (h *recordingHandler) HandlePendingVerification(_ context.Context, subject string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subject == h.panicOn {
		panic("handler exploded")
	}
	if subject == h.errOn {
		return errors.New("handler failed")
	}
	h.pending = append(h.pending, subject)
	return nil
}

func (h *recordingHandler) HandleDeceased(_ context.Context, ev model.StatusChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Subject == h.panicOn {
		panic("handler exploded")
	}
	h.deceased = append(h.deceased, ev)
	return nil
}

func (h *recordingHandler) snapshot() (pending []string, deceased []model.StatusChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.pending...), append([]model.StatusChangeEvent(nil), h.deceased...)
}

func newTestWatcher(lc *fakeLedger, cur CursorStore, h Handler) *Watcher {
	return New(Config{
		Ledger:        lc,
		Cursor:        cur,
		Handler:       h,
		PollInterval:  5 * time.Millisecond,
		ErrorInterval: 5 * time.Millisecond,
		Lookback:      100,
	})
}

func runFor(t *testing.T, w *Watcher, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, w.Run(ctx))
}

// --- Tests ---

func TestDispatchRoutesByStatus(t *testing.T) {
	lc := &fakeLedger{height: 200, events: []model.StatusChangeEvent{
		{Subject: "0xa", OldStatus: model.StatusAlive, NewStatus: model.StatusPendingVerification, BlockHeight: 150},
		{Subject: "0xb", OldStatus: model.StatusPendingVerification, NewStatus: model.StatusDeceased, BlockHeight: 160},
		{Subject: "0xc", OldStatus: model.StatusPendingVerification, NewStatus: model.StatusAlive, BlockHeight: 170}, // ignored
	}}
	h := &recordingHandler{}
	w := newTestWatcher(lc, newMemCursor(), h)

	runFor(t, w, 50*time.Millisecond)

	pending, deceased := h.snapshot()
	assert.Equal(t, []string{"0xa"}, pending)
	require.Len(t, deceased, 1)
	assert.Equal(t, "0xb", deceased[0].Subject)
	assert.Equal(t, uint64(160), deceased[0].BlockHeight)
}

func TestDuplicateTransitionDispatchedOnce(t *testing.T) {
	// The same event stays inside the queried range across many cycles;
	// without dedup it would be dispatched every cycle.
	cur := newMemCursor()
	lc := &fakeLedger{height: 200, events: []model.StatusChangeEvent{
		{Subject: "0xa", NewStatus: model.StatusDeceased, BlockHeight: 150},
	}}
	h := &recordingHandler{}
	w := newTestWatcher(lc, cur, h)

	// Rewind the cursor below the event after every cycle to force
	// re-surfacing.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	go func() {
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				_ = cur.SetCursor(context.Background(), 100)
			}
		}
	}()
	require.NoError(t, w.Run(ctx))

	_, deceased := h.snapshot()
	assert.Len(t, deceased, 1)
}

func TestCursorAdvancesAndResumes(t *testing.T) {
	cur := newMemCursor()
	lc := &fakeLedger{height: 200}
	w := newTestWatcher(lc, cur, &recordingHandler{})

	runFor(t, w, 30*time.Millisecond)

	h, err := cur.Cursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(200), h)

	// Subsequent cycles must query from cursor+1, not the lookback window.
	lc.mu.Lock()
	lc.queries = nil
	lc.height = 210
	lc.mu.Unlock()

	runFor(t, w, 30*time.Millisecond)
	lc.mu.Lock()
	defer lc.mu.Unlock()
	require.NotEmpty(t, lc.queries)
	assert.Equal(t, uint64(201), lc.queries[0][0])
}

func TestFirstRunUsesLookbackWindow(t *testing.T) {
	lc := &fakeLedger{height: 500}
	w := newTestWatcher(lc, newMemCursor(), &recordingHandler{})

	runFor(t, w, 20*time.Millisecond)

	lc.mu.Lock()
	defer lc.mu.Unlock()
	require.NotEmpty(t, lc.queries)
	assert.Equal(t, uint64(400), lc.queries[0][0])
	assert.Equal(t, uint64(500), lc.queries[0][1])
}

func TestLedgerErrorDoesNotStopLoop(t *testing.T) {
	lc := &fakeLedger{heightErr: errors.New("rpc down")}
	h := &recordingHandler{}
	w := newTestWatcher(lc, newMemCursor(), h)

	go func() {
		time.Sleep(20 * time.Millisecond)
		lc.mu.Lock()
		lc.heightErr = nil
		lc.height = 100
		lc.events = []model.StatusChangeEvent{
			{Subject: "0xa", NewStatus: model.StatusDeceased, BlockHeight: 90},
		}
		lc.mu.Unlock()
	}()

	runFor(t, w, 80*time.Millisecond)

	_, deceased := h.snapshot()
	assert.Len(t, deceased, 1, "watcher should recover after transient errors")
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	lc := &fakeLedger{height: 200, events: []model.StatusChangeEvent{
		{Subject: "0xboom", NewStatus: model.StatusDeceased, BlockHeight: 150},
		{Subject: "0xok", NewStatus: model.StatusDeceased, BlockHeight: 151},
	}}
	h := &recordingHandler{panicOn: "0xboom"}
	w := newTestWatcher(lc, newMemCursor(), h)

	runFor(t, w, 50*time.Millisecond)

	_, deceased := h.snapshot()
	require.Len(t, deceased, 1)
	assert.Equal(t, "0xok", deceased[0].Subject)
}
