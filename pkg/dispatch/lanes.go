package dispatch

import (
	"sync"

	"smsform/pkg/bus"
	"smsform/pkg/conversation"
	"smsform/pkg/event"
)

// lanes keeps a FIFO backlog per phone so one phone's messages reach the
// store in arrival order while other phones proceed in parallel.
type lanes struct {
	mu      sync.Mutex
	backlog map[string][]bus.InboundMessage
}

func newLanes() *lanes {
	return &lanes{backlog: make(map[string][]bus.InboundMessage)}
}

// laneKey returns the phone an event is ordered by. Events without one are
// not ordered.
func laneKey(ev event.Event) string {
	if sms, ok := ev.(event.SMSReceived); ok {
		return conversation.NormalizePhone(sms.From)
	}
	return ""
}

// enqueue appends msg to an active lane and reports true, or opens a new lane
// and reports false; the caller then owns the lane and must drain it.
func (l *lanes) enqueue(key string, msg bus.InboundMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if backlog, ok := l.backlog[key]; ok {
		l.backlog[key] = append(backlog, msg)
		return true
	}
	l.backlog[key] = nil
	return false
}

// next pops the oldest waiting message, closing the lane when none is left.
func (l *lanes) next(key string) (bus.InboundMessage, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	backlog := l.backlog[key]
	if len(backlog) == 0 {
		delete(l.backlog, key)
		return bus.InboundMessage{}, false
	}

	msg := backlog[0]
	backlog[0] = bus.InboundMessage{}
	l.backlog[key] = backlog[1:]
	return msg, true
}
