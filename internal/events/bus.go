package events

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Topic is a typed pub/sub channel. Publishing never blocks: a slow subscriber loses
// events instead of stalling the publisher.
type Topic[T any] struct {
	name    Event
	mu      sync.RWMutex
	subs    []chan T
	dropped atomic.Uint64
	tap     *Topic[Envelope]
}

// NewTopic creates a standalone topic.
func NewTopic[T any](name Event) *Topic[T] {
	return &Topic[T]{name: name}
}

// Name returns the event name.
func (t *Topic[T]) Name() Event { return t.name }

// Subscribe registers a listener and returns its channel and an unsubscribe function.
// The channel is closed on unsubscribe.
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, buffer)
	t.subs = append(t.subs, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, c := range t.subs {
				if c == ch {
					close(c)
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish fans payload out to subscribers.
func (t *Topic[T]) Publish(payload T) {
	t.mu.RLock()
	for _, ch := range t.subs {
		select {
		case ch <- payload:
		default:
			t.dropped.Add(1)
		}
	}
	t.mu.RUnlock()

	if t.tap != nil {
		t.tap.Publish(Envelope{Event: t.name, Payload: payload, At: time.Now()})
	}
}

// Dropped counts events lost to full subscriber buffers.
func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}

// Listen consumes sub on its own goroutine until the channel closes or ctx is done.
// A panicking handler is logged and the worker moves on to the next event.
func Listen[T any](ctx context.Context, sub <-chan T, log *zap.Logger, name string, handle func(T)) {
	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				dispatch(log, name, ev, handle)
			}
		}
	}()
}

func dispatch[T any](log *zap.Logger, name string, ev T, handle func(T)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event listener panicked",
				zap.String("listener", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	handle(ev)
}

// Bus groups the coordinator's topics. All carries every event wrapped in an Envelope.
type Bus struct {
	OrderExecuted   *Topic[OrderExecuted]
	SignalGenerated *Topic[SignalGenerated]
	RiskAlert       *Topic[RiskAlert]
	PositionUpdated *Topic[PositionUpdated]
	ErrorOccurred   *Topic[ErrorOccurred]
	All             *Topic[Envelope]
}

// NewBus creates a bus with every topic wired to All.
func NewBus() *Bus {
	all := NewTopic[Envelope](EventAll)
	b := &Bus{
		OrderExecuted:   NewTopic[OrderExecuted](EventOrderExecuted),
		SignalGenerated: NewTopic[SignalGenerated](EventSignalGenerated),
		RiskAlert:       NewTopic[RiskAlert](EventRiskAlert),
		PositionUpdated: NewTopic[PositionUpdated](EventPositionUpdated),
		ErrorOccurred:   NewTopic[ErrorOccurred](EventErrorOccurred),
		All:             all,
	}
	b.OrderExecuted.tap = all
	b.SignalGenerated.tap = all
	b.RiskAlert.tap = all
	b.PositionUpdated.tap = all
	b.ErrorOccurred.tap = all
	return b
}
