package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventMessageReceived  EventType = "message_received"
	EventFieldConfirmed   EventType = "field_confirmed"
	EventFormCompleted    EventType = "form_completed"
	EventReplySent        EventType = "reply_sent"
	EventReplyFailed      EventType = "reply_failed"
	EventReplyFallback    EventType = "reply_fallback"
	EventDeliveryReport   EventType = "delivery_report"
	EventTaskFailed       EventType = "task_failed"
	EventDuplicateSkipped EventType = "duplicate_skipped"
)

// Event is one lifecycle notification about conversation processing.
type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Phone     string            `json:"phone_number,omitempty"`
	EventID   string            `json:"event_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type observer struct {
	ch    chan Event
	types map[EventType]struct{}
}

func (o *observer) wants(t EventType) bool {
	if len(o.types) == 0 {
		return true
	}
	_, ok := o.types[t]
	return ok
}

// PublishEvent hands evt to every interested observer without blocking. An
// observer whose buffer is full misses the event and the drop is counted.
func (mb *MessageBus) PublishEvent(ctx context.Context, evt Event) bool {
	if mb.stopped(orBackground(ctx)) {
		return false
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, obs := range mb.observers {
		if !obs.wants(evt.Type) {
			continue
		}
		select {
		case obs.ch <- evt:
		default:
			mb.dropped.Add(1)
		}
	}

	return true
}

// Dropped returns how many lifecycle events were lost to full observer buffers.
func (mb *MessageBus) Dropped() uint64 {
	return mb.dropped.Load()
}

// SubscribeEvents registers an observer. With no types it receives every
// event; otherwise only the listed types. The channel closes when ctx ends,
// the bus closes, or the returned cancel func runs.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int, types ...EventType) (<-chan Event, func()) {
	ctx = orBackground(ctx)
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	obs := &observer{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		obs.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			obs.types[t] = struct{}{}
		}
	}

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(obs.ch)
		return obs.ch, func() {}
	default:
	}
	id := mb.nextID
	mb.nextID++
	mb.observers[id] = obs
	mb.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			mb.mu.Lock()
			defer mb.mu.Unlock()
			if _, ok := mb.observers[id]; ok {
				delete(mb.observers, id)
				close(obs.ch)
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		cancel()
	}()

	return obs.ch, cancel
}
