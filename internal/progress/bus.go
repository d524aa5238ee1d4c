// Package progress fans execution progress events out to live observers.
//
// Delivery is best effort and non-durable: events published while nobody is
// subscribed are dropped, and a subscriber that cannot keep up is removed
// without affecting the publisher or its siblings. There is no history
// replay; observers connect before or during the execution they care about.
package progress

import (
	"sync"
	"time"

	"github.com/charon-estate/charond/internal/model"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber whose
// buffer is full at publish time is considered dead and dropped.
const subscriberBuffer = 64

type subscriber struct {
	ch chan model.ProgressEvent
}

// Bus is a per-execution publish/subscribe channel. The zero value is not
// usable; call NewBus.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{} // execution id -> subscribers
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish delivers an event to every live subscriber of its execution.
// It never blocks: a subscriber with a full buffer is removed and its
// channel closed.
func (b *Bus) Publish(ev model.ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[ev.ExecutionID]
	for s := range subs {
		select {
		case s.ch <- ev:
		default:
			delete(subs, s)
			close(s.ch)
		}
	}
	if len(subs) == 0 {
		delete(b.subs, ev.ExecutionID)
	}
}

// Emit is a convenience wrapper building the event envelope.
func (b *Bus) Emit(executionID string, kind model.ProgressKind, data map[string]any) {
	b.Publish(model.ProgressEvent{
		Type:        kind,
		ExecutionID: executionID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	})
}

// Subscribe registers an observer for one execution and returns the event
// stream plus a cancel function. The stream is closed when cancelled or
// when the bus drops the subscriber as dead.
func (b *Bus) Subscribe(executionID string) (<-chan model.ProgressEvent, func()) {
	s := &subscriber{ch: make(chan model.ProgressEvent, subscriberBuffer)}

	b.mu.Lock()
	subs, ok := b.subs[executionID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		b.subs[executionID] = subs
	}
	subs[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.subs[executionID]
		if !ok {
			return
		}
		if _, live := subs[s]; !live {
			return
		}
		delete(subs, s)
		close(s.ch)
		if len(subs) == 0 {
			delete(b.subs, executionID)
		}
	}
	return s.ch, cancel
}

// SubscriberCount reports the number of live subscribers for an execution.
func (b *Bus) SubscriberCount(executionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[executionID])
}
