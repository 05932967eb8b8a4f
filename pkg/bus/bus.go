package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// MessageBus carries inbound events from the webhook to background workers and
// fans lifecycle events out to observers.
type MessageBus struct {
	inbound chan InboundMessage

	mu        sync.RWMutex
	observers map[uint64]*observer
	nextID    uint64
	dropped   atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewMessageBus creates a bus whose inbound queue holds size messages.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &MessageBus{
		inbound:   make(chan InboundMessage, size),
		observers: make(map[uint64]*observer),
		done:      make(chan struct{}),
	}
}

// PublishInbound enqueues msg, waiting while the queue is full. It reports
// false when ctx ends or the bus is closed first.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	ctx = orBackground(ctx)

	// A closed bus or a finished ctx must win over free queue space.
	if mb.stopped(ctx) {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.inbound <- msg:
		return true
	}
}

// ConsumeInbound waits for the next queued message.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	ctx = orBackground(ctx)

	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-mb.done:
		return InboundMessage{}, false
	case msg := <-mb.inbound:
		return msg, true
	}
}

// Pending returns the number of queued inbound messages.
func (mb *MessageBus) Pending() int {
	return len(mb.inbound)
}

// Done is closed when the bus closes.
func (mb *MessageBus) Done() <-chan struct{} {
	return mb.done
}

// Close stops the bus and closes every observer channel. It is safe to call
// more than once.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		defer mb.mu.Unlock()
		for id, obs := range mb.observers {
			close(obs.ch)
			delete(mb.observers, id)
		}
	})
}

func (mb *MessageBus) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-mb.done:
		return true
	default:
		return false
	}
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
