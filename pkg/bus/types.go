package bus

import (
	"time"

	"smsform/pkg/event"
)

// InboundMessage is one normalized webhook event waiting for a worker.
type InboundMessage struct {
	RequestID  string
	Event      event.Event
	ReceivedAt time.Time
}
