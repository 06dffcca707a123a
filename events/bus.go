package events

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrBusClosed    = errors.New("events: bus closed")
	ErrWaitTimeout  = errors.New("events: waiter timed out")
	ErrWaitCanceled = errors.New("events: waiter canceled")
)

type Predicate func(Event) bool

// Subscription is a live feed of bus events. Cancel releases it; a canceled
// subscription's channel is closed and never reused.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}

	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type waiter struct {
	pred Predicate
	ch   chan Event
}

// Bus is a process-local fan-out of SDK events. Emit never blocks: slow
// subscribers drop events once their buffer is full.
type Bus struct {
	mu      sync.Mutex
	closed  bool
	nextID  uint64
	subs    map[uint64]chan Event
	waiters map[uint64]*waiter
}

func NewBus() *Bus {
	return &Bus{
		subs:    make(map[uint64]chan Event),
		waiters: make(map[uint64]*waiter),
	}
}

func (b *Bus) Subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	id := b.nextID
	b.nextID++

	ch := make(chan Event, buffer)
	b.subs[id] = ch

	sub := &Subscription{C: ch}
	sub.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		stored, ok := b.subs[id]
		if !ok {
			return
		}

		delete(b.subs, id)
		close(stored)
	}

	return sub, nil
}

// SubscriberCount reports how many live subscriptions exist.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}

func (b *Bus) Emit(evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}

	for id, w := range b.waiters {
		if w.pred != nil && !w.pred(evt) {
			continue
		}

		delete(b.waiters, id)
		w.ch <- evt
		close(w.ch)
	}

	return nil
}

// WaitFor blocks until an event matching pred is emitted, the context ends,
// or the bus closes.
func (b *Bus) WaitFor(ctx context.Context, pred Predicate) (Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	w := &waiter{pred: pred, ch: make(chan Event, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	id := b.nextID
	b.nextID++
	b.waiters[id] = w
	b.mu.Unlock()

	select {
	case evt, ok := <-w.ch:
		if ok {
			return evt, nil
		}

		if b.IsClosed() {
			return nil, ErrBusClosed
		}

		return nil, waitErr(ctx)
	case <-ctx.Done():
		b.mu.Lock()
		if stored, ok := b.waiters[id]; ok {
			delete(b.waiters, id)
			close(stored.ch)
		}
		b.mu.Unlock()

		return nil, waitErr(ctx)
	}
}

func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrWaitTimeout
	}

	return ErrWaitCanceled
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}

	for id, w := range b.waiters {
		delete(b.waiters, id)
		close(w.ch)
	}
}

func (b *Bus) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}
