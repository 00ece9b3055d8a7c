package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("error bus is closed")

// ErrorBus is a bounded, lossy, non-blocking bus for diagnostic events.
//
// Pause listeners publish from the detector goroutine, so Publish must never
// block: subscriptions have bounded buffers and full buffers drop the event.
// The read path is lock-free (atomic pointer to a copy-on-write slice).
//
// A nil *ErrorBus is valid and discards everything.
type ErrorBus struct {
	subs           atomic.Pointer[[]*ErrorSubscription]
	droppedCounter atomic.Uint64 // Total events dropped across all subs
	mu             sync.Mutex    // Protects subscription modifications only
	closed         bool
	bufferSize     int
}

// ErrorSubscription represents a subscription to the error bus.
type ErrorSubscription struct {
	id          string
	ch          chan ErrorEvent
	minSeverity ErrorSeverity
	closed      atomic.Bool
}

// NewErrorBus creates a new error bus with the given buffer size per subscription.
func NewErrorBus(bufferSize int) *ErrorBus {
	if bufferSize <= 0 {
		bufferSize = 32
	}

	bus := &ErrorBus{
		bufferSize: bufferSize,
	}

	emptyList := make([]*ErrorSubscription, 0)
	bus.subs.Store(&emptyList)

	return bus
}

// Publish sends an event to every subscription whose severity floor it meets.
// It never blocks and returns the number of successful deliveries.
func (b *ErrorBus) Publish(evt ErrorEvent) int {
	if b == nil {
		return 0
	}

	subs := b.subs.Load()
	if subs == nil || len(*subs) == 0 {
		return 0
	}

	delivered := 0
	for _, sub := range *subs {
		if sub.closed.Load() || evt.Severity < sub.minSeverity {
			continue
		}

		if sub.trySend(evt) {
			delivered++
		} else {
			b.droppedCounter.Add(1)
		}
	}

	return delivered
}

// trySend delivers without blocking. A concurrent Unsubscribe may close the
// channel between the closed check and the send; that counts as a drop.
func (s *ErrorSubscription) trySend(evt ErrorEvent) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// Subscribe creates a subscription receiving events at or above minSeverity.
func (b *ErrorBus) Subscribe(minSeverity ErrorSeverity) (*ErrorSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &ErrorSubscription{
		id:          uuid.NewString(),
		ch:          make(chan ErrorEvent, b.bufferSize),
		minSeverity: minSeverity,
	}

	oldSubs := b.subs.Load()
	newSubs := make([]*ErrorSubscription, len(*oldSubs), len(*oldSubs)+1)
	copy(newSubs, *oldSubs)
	newSubs = append(newSubs, sub)
	b.subs.Store(&newSubs)

	return sub, nil
}

// ErrorHandler processes events delivered to a handler subscription.
type ErrorHandler func(ErrorEvent)

// SubscribeWithHandler runs handler on a background goroutine for every event
// at or above minSeverity until ctx is cancelled or the bus closes.
func (b *ErrorBus) SubscribeWithHandler(ctx context.Context, minSeverity ErrorSeverity, handler ErrorHandler) (*ErrorSubscription, error) {
	sub, err := b.Subscribe(minSeverity)
	if err != nil {
		return nil, err
	}

	go func() {
		defer b.Unsubscribe(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.Events():
				if !ok {
					return
				}
				handler(evt)
			}
		}
	}()

	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel. Safe to call twice.
func (b *ErrorBus) Unsubscribe(sub *ErrorSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	close(sub.ch)

	oldSubs := b.subs.Load()
	newSubs := make([]*ErrorSubscription, 0, len(*oldSubs))
	for _, s := range *oldSubs {
		if s != sub {
			newSubs = append(newSubs, s)
		}
	}
	b.subs.Store(&newSubs)
}

// Close shuts down the bus and all subscriptions.
func (b *ErrorBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range *b.subs.Load() {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
	}

	empty := make([]*ErrorSubscription, 0)
	b.subs.Store(&empty)

	return nil
}

// DroppedCount returns the total number of events dropped due to full buffers.
func (b *ErrorBus) DroppedCount() uint64 {
	return b.droppedCounter.Load()
}

// SubscriberCount returns the current number of active subscribers.
func (b *ErrorBus) SubscriberCount() int {
	return len(*b.subs.Load())
}

// Events returns the channel for receiving events.
func (s *ErrorSubscription) Events() <-chan ErrorEvent {
	return s.ch
}

// ID returns the subscription identifier.
func (s *ErrorSubscription) ID() string {
	return s.id
}
